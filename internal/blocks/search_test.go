package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchContentGroupsSectionsAndSubsections(t *testing.T) {
	doc := []Block{
		text("lead", Paragraph, "orphan", 0),
		text("s1", Section, "Scope", 1),
		text("p1", Paragraph, "alpha", 2),
		text("t1", Subtitle, "Detail", 3),
		text("l1", UList, "beta", 4),
		{UID: "img", Type: Image, Payload: map[string]any{"url": "x"}, Ordering: 5},
		text("s2", Section, "Pricing", 6),
		text("p2", Paragraph, "gamma", 7),
	}

	got := SearchContent(doc)

	assert.Equal(t, []SectionContent{
		{UID: "s1", Level: LevelSection, Title: "Scope", Content: "alpha Detail beta"},
		{UID: "s2", Level: LevelSection, Title: "Pricing", Content: "gamma"},
		{UID: "t1", Level: LevelSubsection, Title: "Detail", Content: "beta"},
	}, got)
}

func TestSearchContentEmpty(t *testing.T) {
	assert.Empty(t, SearchContent([]Block{text("p", Paragraph, "x", 0)}))
}
