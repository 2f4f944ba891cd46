package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proppy/api/internal/blocks"
	"proppy/api/internal/logging"
)

type fakeSource struct {
	doc   Document
	err   error
	calls int
}

func (f *fakeSource) LoadSnapshot(_ context.Context, shareToken string, version int) (Document, error) {
	f.calls++
	if f.err != nil {
		return Document{}, f.err
	}
	doc := f.doc
	doc.ShareToken = shareToken
	doc.Version = version
	return doc, nil
}

type fakePrinter struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (f *fakePrinter) Print(_ context.Context, target string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 fake"), nil
}

func sampleDoc() Document {
	return Document{
		Title:     "Website <redesign>",
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Blocks: []blocks.Block{
			{UID: "p", Type: blocks.Paragraph, Payload: map[string]any{"value": "We build & ship"}, Ordering: 1},
			{UID: "s", Type: blocks.Section, Payload: map[string]any{"value": "Scope"}, Ordering: 0},
			{UID: "l", Type: blocks.UList, Payload: map[string]any{"items": []any{"one", "two"}}, Ordering: 2},
			{UID: "t", Type: blocks.CostTable, Payload: map[string]any{"rows": []any{[]any{"Design", 100}}}, Ordering: 3},
			{UID: "g", Type: blocks.Signature, Payload: map[string]any{"name": "Ada", "date": int64(1767225600)}, Ordering: 4},
		},
	}
}

func TestHTMLRendersBlocksInOrder(t *testing.T) {
	page, err := HTML(sampleDoc())
	require.NoError(t, err)

	scope := strings.Index(page, "<h1>Scope</h1>")
	body := strings.Index(page, "<p>We build &amp; ship</p>")
	require.NotEqual(t, -1, scope)
	require.NotEqual(t, -1, body)
	assert.Less(t, scope, body)
	assert.Contains(t, page, "<li>one</li><li>two</li>")
	assert.Contains(t, page, "<td>Design</td><td>100</td>")
	assert.Contains(t, page, "Signed by Ada on Jan 1, 2026")
	assert.Contains(t, page, "Website &lt;redesign&gt;")
}

func TestHTMLUnsignedSignatureBlock(t *testing.T) {
	doc := Document{Blocks: []blocks.Block{{UID: "g", Type: blocks.Signature, Payload: map[string]any{}}}}
	page, err := HTML(doc)
	require.NoError(t, err)
	assert.Contains(t, page, "Awaiting signature")
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b", percentEncodeForDataURL("a b"))
	assert.Equal(t, "%3Cp%3E", percentEncodeForDataURL("<p>"))
	assert.Equal(t, "%C3%A9", percentEncodeForDataURL("é"))
	assert.True(t, strings.HasPrefix(DataURL("<p>x</p>"), "data:text/html;charset=utf-8,"))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "Website-redesign.pdf", Filename("Website redesign!"))
	assert.Equal(t, "proposal.pdf", Filename("***"))
	assert.Len(t, Filename(strings.Repeat("a", 80)), 54)
}

func TestRenderStoresUnderShareTokenAndVersion(t *testing.T) {
	source := &fakeSource{doc: sampleDoc()}
	printer := &fakePrinter{}
	objects := NewMemoryObjects()
	p := NewPrerenderer(source, printer, objects, "")

	key, err := p.Render(context.Background(), "ABC123XYZ", 3)
	require.NoError(t, err)
	assert.Equal(t, "ABC123XYZ/3.pdf", key)

	data, err := objects.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))
	require.Len(t, printer.targets, 1)
	assert.True(t, strings.HasPrefix(printer.targets[0], "data:text/html"))
}

func TestRenderUsesPageBaseURL(t *testing.T) {
	source := &fakeSource{}
	printer := &fakePrinter{}
	p := NewPrerenderer(source, printer, NewMemoryObjects(), "https://app.example.com/")

	_, err := p.Render(context.Background(), "ABC123XYZ", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com/p/ABC123XYZ/2"}, printer.targets)
	assert.Zero(t, source.calls)
}

func TestFetchRendersOnceThenServesStoredCopy(t *testing.T) {
	source := &fakeSource{doc: sampleDoc()}
	printer := &fakePrinter{}
	p := NewPrerenderer(source, printer, NewMemoryObjects(), "")

	for i := 0; i < 2; i++ {
		data, err := p.Fetch(context.Background(), "ABC123XYZ", 1)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
	assert.Len(t, printer.targets, 1)
}

func TestRequestRenderSwallowsFailures(t *testing.T) {
	logging.Discard()
	printer := &fakePrinter{err: errors.New("no chrome")}
	objects := NewMemoryObjects()
	p := NewPrerenderer(&fakeSource{doc: sampleDoc()}, printer, objects, "")

	p.RequestRender("ABC123XYZ", 1)
	assert.Eventually(t, func() bool {
		printer.mu.Lock()
		defer printer.mu.Unlock()
		return len(printer.targets) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := objects.Get(context.Background(), ObjectKey("ABC123XYZ", 1))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
