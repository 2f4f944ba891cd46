package blocks

import "errors"

var ErrBlockNotFound = errors.New("block not found")

// ExtractSection clips the run of blocks starting at startUID for import into
// another document.
//
// A section header start stops at the next section header. Any other start
// stops at the next section header or subtitle. The stop block is excluded.
// Returned blocks are fresh clones: new uid, zero ordering and version, and
// an emptied payload for signature blocks.
func ExtractSection(source []Block, startUID string, newUID func() string) ([]Block, error) {
	ordered := make([]Block, len(source))
	copy(ordered, source)
	SortByOrdering(ordered)

	start := -1
	for i, block := range ordered {
		if block.UID == startUID {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrBlockNotFound
	}

	stopOn := map[Type]bool{Section: true, Subtitle: true}
	if ordered[start].Type == Section {
		stopOn = map[Type]bool{Section: true}
	}

	var out []Block
	clipping := false
	for _, block := range ordered[start:] {
		if clipping && stopOn[block.Type] {
			break
		}
		clipping = true
		out = append(out, cloneForImport(block, newUID()))
	}
	return out, nil
}

func cloneForImport(block Block, uid string) Block {
	payload := ClonePayload(block.Payload)
	if block.Type == Signature || payload == nil {
		payload = map[string]any{}
	}
	return Block{
		UID:     uid,
		Type:    block.Type,
		Payload: payload,
	}
}
