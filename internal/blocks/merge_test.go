package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(uid string, t Type, value string, ordering int) Block {
	return Block{UID: uid, Type: t, Payload: map[string]any{"value": value}, Ordering: ordering}
}

func poolLookup(pool ...Block) Lookup {
	byUID := map[string]Block{}
	for _, block := range pool {
		byUID[block.UID] = block
	}
	return func(uid string) (Block, bool) {
		block, ok := byUID[uid]
		return block, ok
	}
}

func TestMergeUpdatesCreatesAndDetaches(t *testing.T) {
	attached := []Block{
		text("a", Section, "Intro", 0),
		text("b", Paragraph, "Hello", 1),
		text("c", Paragraph, "Gone", 2),
	}
	incoming := []Block{
		text("b", Paragraph, "Hello again", 9),
		text("a", Section, "Intro", 4),
		text("new", Quote, "Quoted", 0),
	}

	result := Merge(attached, poolLookup(), incoming)

	require.Len(t, result.Merged, 3)
	assert.Equal(t, []string{"b", "a", "new"}, uids(result.Merged))
	for i, block := range result.Merged {
		assert.Equal(t, i, block.Ordering)
	}
	assert.Equal(t, "Hello again", result.Merged[0].Text())
	assert.Equal(t, []string{"c"}, result.Detached)

	counts := result.Counts()
	assert.Equal(t, 2, counts[ActionUpdate])
	assert.Equal(t, 1, counts[ActionCreate])
	assert.Equal(t, 1, counts[ActionDetach])
	assert.Zero(t, counts[ActionReattach])
}

func TestMergeEachUIDGetsOneDecision(t *testing.T) {
	attached := []Block{text("a", Paragraph, "1", 0), text("b", Paragraph, "2", 1)}
	incoming := []Block{text("b", Paragraph, "2", 0), text("z", Paragraph, "3", 1), text("y", Paragraph, "4", 2)}

	result := Merge(attached, poolLookup(text("y", Paragraph, "old", 5)), incoming)

	seen := map[string]int{}
	for _, decision := range result.Decisions {
		seen[decision.UID]++
	}
	for uid, n := range seen {
		assert.Equal(t, 1, n, uid)
	}
	assert.Len(t, seen, 4)
}

func TestMergeReattachesDetachedBlock(t *testing.T) {
	original := []Block{text("a", Section, "S", 0), text("b", Paragraph, "kept payload", 1)}

	removed := Merge(original, poolLookup(), []Block{original[0]})
	require.Equal(t, []string{"b"}, removed.Detached)

	restored := Merge(removed.Merged, poolLookup(original[1]), original)
	require.Len(t, restored.Merged, 2)
	assert.Equal(t, "b", restored.Merged[1].UID)
	assert.Equal(t, "kept payload", restored.Merged[1].Text())
	assert.Equal(t, ActionReattach, decisionFor(t, restored, "b").Action)
	assert.Empty(t, restored.Detached)
}

func TestMergeIsIdempotent(t *testing.T) {
	attached := []Block{text("a", Section, "S", 0)}
	incoming := []Block{text("a", Section, "S2", 3), text("b", Paragraph, "P", 7)}

	first := Merge(attached, poolLookup(), incoming)
	second := Merge(first.Merged, poolLookup(), incoming)

	assert.Equal(t, first.Merged, second.Merged)
	assert.Empty(t, second.Detached)
	for _, decision := range second.Decisions {
		assert.Equal(t, ActionUpdate, decision.Action)
	}
}

func TestMergeDuplicateUIDLastOccurrenceWins(t *testing.T) {
	incoming := []Block{
		text("a", Paragraph, "first", 0),
		text("b", Paragraph, "middle", 1),
		text("a", Paragraph, "last", 2),
	}

	result := Merge(nil, poolLookup(), incoming)

	require.Len(t, result.Merged, 2)
	assert.Equal(t, []string{"b", "a"}, uids(result.Merged))
	assert.Equal(t, "last", result.Merged[1].Text())
	assert.Equal(t, 1, result.Merged[1].Ordering)
}

func TestMergeEmptyIncomingDetachesEverything(t *testing.T) {
	attached := []Block{text("a", Section, "S", 0), text("b", Paragraph, "P", 1)}
	result := Merge(attached, poolLookup(), nil)
	assert.Empty(t, result.Merged)
	assert.Equal(t, []string{"a", "b"}, result.Detached)
}

func TestMergeFillsDefaultPayload(t *testing.T) {
	result := Merge(nil, nil, []Block{{UID: "d", Type: Divider}, {UID: "p", Type: Paragraph}})
	assert.Equal(t, map[string]any{}, result.Merged[0].Payload)
	assert.Equal(t, map[string]any{"value": ""}, result.Merged[1].Payload)
}

func TestMergeDoesNotAliasIncomingPayload(t *testing.T) {
	incoming := []Block{text("a", Paragraph, "v", 0)}
	result := Merge(nil, nil, incoming)
	incoming[0].Payload["value"] = "mutated"
	assert.Equal(t, "v", result.Merged[0].Text())
}

func uids(items []Block) []string {
	out := make([]string, 0, len(items))
	for _, block := range items {
		out = append(out, block.UID)
	}
	return out
}

func decisionFor(t *testing.T, result MergeResult, uid string) Decision {
	t.Helper()
	for _, decision := range result.Decisions {
		if decision.UID == uid {
			return decision
		}
	}
	t.Fatalf("no decision for %s", uid)
	return Decision{}
}
