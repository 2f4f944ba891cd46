package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
)

// Source loads the frozen content of a snapshot.
type Source interface {
	LoadSnapshot(ctx context.Context, shareToken string, version int) (Document, error)
}

// Prerenderer prints snapshots to PDF ahead of the first download.
type Prerenderer struct {
	source  Source
	printer Printer
	objects ObjectStore
	// pageBaseURL, when set, is the public shared page host; Chrome then
	// prints <pageBaseURL>/p/<token>/<version> instead of the built-in page.
	pageBaseURL string
	timeout     time.Duration
}

func NewPrerenderer(source Source, printer Printer, objects ObjectStore, pageBaseURL string) *Prerenderer {
	return &Prerenderer{
		source:      source,
		printer:     printer,
		objects:     objects,
		pageBaseURL: strings.TrimRight(pageBaseURL, "/"),
		timeout:     time.Minute,
	}
}

// RequestRender renders in the background. Failures are logged and counted
// and never reach the caller.
func (p *Prerenderer) RequestRender(shareToken string, version int) {
	logging.SafeGo("render.pdf", func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if _, err := p.Render(ctx, shareToken, version); err != nil {
			metrics.BackgroundFailures.WithLabelValues("render").Inc()
			logging.Log.WithFields(logrus.Fields{
				"shareToken": shareToken,
				"version":    version,
			}).WithError(err).Warn("pdf prerender failed")
		}
	})
}

// Render prints the snapshot and stores the result, returning the key.
func (p *Prerenderer) Render(ctx context.Context, shareToken string, version int) (string, error) {
	target := ""
	if p.pageBaseURL != "" {
		target = fmt.Sprintf("%s/p/%s/%d", p.pageBaseURL, shareToken, version)
	} else {
		doc, err := p.source.LoadSnapshot(ctx, shareToken, version)
		if err != nil {
			return "", fmt.Errorf("load snapshot: %w", err)
		}
		page, err := HTML(doc)
		if err != nil {
			return "", err
		}
		target = DataURL(page)
	}

	pdf, err := p.printer.Print(ctx, target)
	if err != nil {
		return "", err
	}
	key := ObjectKey(shareToken, version)
	if err := p.objects.Put(ctx, key, pdf); err != nil {
		return "", err
	}
	logging.Log.WithFields(logrus.Fields{"key": key, "bytes": len(pdf)}).Info("pdf rendered")
	return key, nil
}

// Fetch returns a stored PDF, rendering it first when missing.
func (p *Prerenderer) Fetch(ctx context.Context, shareToken string, version int) ([]byte, error) {
	key := ObjectKey(shareToken, version)
	data, err := p.objects.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if err != ErrObjectNotFound {
		return nil, err
	}
	if _, err := p.Render(ctx, shareToken, version); err != nil {
		return nil, err
	}
	return p.objects.Get(ctx, key)
}
