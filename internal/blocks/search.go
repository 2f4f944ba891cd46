package blocks

import "strings"

// Level tags a searchable section as a top-level section or a subsection.
type Level string

const (
	LevelSection    Level = "h1"
	LevelSubsection Level = "h2"
)

// SectionContent is the searchable text of one section or subsection.
type SectionContent struct {
	UID     string
	Level   Level
	Title   string
	Content string
}

var searchableTypes = map[Type]bool{H3: true, Paragraph: true, UList: true, OList: true}

// SearchContent groups blocks under their section headers (h1) and subtitles
// (h2) and collects their body text. Blocks before the first header are not
// indexed.
func SearchContent(items []Block) []SectionContent {
	ordered := make([]Block, len(items))
	copy(ordered, items)
	SortByOrdering(ordered)

	out := collectSections(ordered, Section, LevelSection)
	return append(out, collectSections(ordered, Subtitle, LevelSubsection)...)
}

func collectSections(ordered []Block, header Type, level Level) []SectionContent {
	var out []SectionContent
	var current *SectionContent
	var content []string
	stopped := false

	flush := func() {
		if current != nil {
			current.Content = strings.Join(content, " ")
			out = append(out, *current)
		}
	}

	for _, block := range ordered {
		if block.Type == header {
			flush()
			current = &SectionContent{UID: block.UID, Level: level, Title: block.Text()}
			content = nil
			stopped = false
			continue
		}
		if current == nil || stopped {
			continue
		}
		if level == LevelSubsection && block.Type == Section {
			stopped = true
			continue
		}
		if searchableTypes[block.Type] || (level == LevelSection && block.Type == Subtitle) {
			content = append(content, block.Text())
		}
	}
	flush()
	return out
}
