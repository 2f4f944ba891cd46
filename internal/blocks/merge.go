package blocks

// Action is the decision taken for one uid during a merge.
type Action string

const (
	// ActionUpdate keeps an attached block and takes the incoming payload.
	ActionUpdate Action = "update"
	// ActionReattach revives a previously detached block (undo).
	ActionReattach Action = "reattach"
	// ActionCreate inserts a block whose uid storage has never seen.
	ActionCreate Action = "create"
	// ActionDetach soft-deletes an attached block missing from the edit.
	ActionDetach Action = "detach"
)

type Decision struct {
	UID    string
	Action Action
	// Block is the resulting block state. For detach it is the block as it
	// was last attached.
	Block Block
}

type MergeResult struct {
	Decisions []Decision
	// Merged is the attached sequence after the edit, in incoming order.
	Merged []Block
	// Detached lists uids that were attached before and are not anymore.
	Detached []string
}

// Lookup finds a block that exists in storage but is not attached to the
// document being edited.
type Lookup func(uid string) (Block, bool)

// Merge applies an incoming block list to the currently attached blocks.
//
// Every uid gets exactly one decision. Orderings are reassigned from the
// incoming index; client-supplied orderings are ignored. When a uid appears
// more than once in incoming, its last occurrence wins both payload and
// position.
func Merge(attached []Block, lookup Lookup, incoming []Block) MergeResult {
	current := make(map[string]Block, len(attached))
	for _, block := range attached {
		current[block.UID] = block
	}

	last := make(map[string]int, len(incoming))
	for i, block := range incoming {
		last[block.UID] = i
	}

	result := MergeResult{
		Merged:   make([]Block, 0, len(last)),
		Detached: []string{},
	}

	position := 0
	for i, in := range incoming {
		if last[in.UID] != i {
			continue
		}
		next := Block{
			UID:      in.UID,
			Type:     in.Type,
			Payload:  ClonePayload(in.Payload),
			Ordering: position,
			Version:  in.Version,
		}
		if next.Payload == nil {
			next.Payload = DefaultPayload(next.Type)
		}
		position++

		action := ActionCreate
		if _, ok := current[in.UID]; ok {
			action = ActionUpdate
		} else if lookup != nil {
			if _, ok := lookup(in.UID); ok {
				action = ActionReattach
			}
		}

		result.Decisions = append(result.Decisions, Decision{UID: in.UID, Action: action, Block: next})
		result.Merged = append(result.Merged, next)
	}

	for _, block := range attached {
		if _, kept := last[block.UID]; kept {
			continue
		}
		result.Decisions = append(result.Decisions, Decision{UID: block.UID, Action: ActionDetach, Block: block})
		result.Detached = append(result.Detached, block.UID)
	}

	return result
}

// Counts tallies decisions by action.
func (r MergeResult) Counts() map[Action]int {
	out := make(map[Action]int, 4)
	for _, decision := range r.Decisions {
		out[decision.Action]++
	}
	return out
}
