// Package blocks holds the typed content blocks of a proposal and the pure
// operations over block sequences: merging a client edit, clipping a section
// for import and extracting searchable section text.
package blocks

import "sort"

type Type string

const (
	Section   Type = "section"
	Paragraph Type = "paragraph"
	Subtitle  Type = "subtitle"
	UList     Type = "uli"
	OList     Type = "oli"
	Image     Type = "image"
	CostTable Type = "cost_table"
	Quote     Type = "quote"
	Embed     Type = "embed"
	Signature Type = "signature"
	Divider   Type = "divider"
	H3        Type = "h3"
	Payment   Type = "payment"
	Table     Type = "table"
)

var allTypes = map[Type]struct{}{
	Section: {}, Paragraph: {}, Subtitle: {}, UList: {}, OList: {}, Image: {},
	CostTable: {}, Quote: {}, Embed: {}, Signature: {}, Divider: {}, H3: {},
	Payment: {}, Table: {},
}

// Types returns every known block type as strings, sorted.
func Types() []string {
	out := make([]string, 0, len(allTypes))
	for t := range allTypes {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func (t Type) Valid() bool {
	_, ok := allTypes[t]
	return ok
}

// DefaultPayload is the payload a block of the given type starts with.
func DefaultPayload(t Type) map[string]any {
	switch t {
	case Signature, Divider, Payment, Table:
		return map[string]any{}
	default:
		return map[string]any{"value": ""}
	}
}

// Block is one typed element of a content sequence. Ordering is the 0-based
// position within the owning sequence. Version is an opaque client stamp.
type Block struct {
	UID      string         `json:"uid"`
	Type     Type           `json:"type"`
	Payload  map[string]any `json:"data"`
	Ordering int            `json:"ordering"`
	Version  int64          `json:"version"`
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	b.Payload = ClonePayload(b.Payload)
	return b
}

// Text returns the "value" field of the payload, or "" when absent.
func (b Block) Text() string {
	if b.Payload == nil {
		return ""
	}
	value, _ := b.Payload["value"].(string)
	return value
}

// SortByOrdering sorts blocks in place by ordering, keeping the input order
// for equal orderings.
func SortByOrdering(items []Block) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Ordering < items[j].Ordering
	})
}

// ClonePayload deep-copies a JSON-shaped payload.
func ClonePayload(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return ClonePayload(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Duplicate copies a sequence for a new document: fresh uids, same types,
// payloads and orderings.
func Duplicate(source []Block, newUID func() string) []Block {
	out := make([]Block, 0, len(source))
	for _, block := range source {
		copied := block.Clone()
		copied.UID = newUID()
		copied.Version = 0
		out = append(out, copied)
	}
	return out
}

// Find returns the first block of the given type.
func Find(items []Block, t Type) (Block, bool) {
	for _, block := range items {
		if block.Type == t {
			return block, true
		}
	}
	return Block{}, false
}
