package routing

import "time"

const defaultToolBudgetCapacity = 20

// toolUse records when a tool was last added to a session's contextual set.
type toolUse struct {
	name string
	turn int
	at   time.Time
}

// ToolBudget is a fixed-capacity, evict-oldest-on-overflow cache of
// recently-used tool names per session, directly adapted from
// agent/memory.go's RingMemory (same "drop index 0, append" eviction),
// generalized from storing memory items to storing tool-use records.
type ToolBudget struct {
	cap   int
	items []toolUse
}

// NewToolBudget builds a ToolBudget capped at capacity unique tools (20 per
// §4.9; capacity<=0 uses the default).
func NewToolBudget(capacity int) *ToolBudget {
	if capacity <= 0 {
		capacity = defaultToolBudgetCapacity
	}
	return &ToolBudget{cap: capacity}
}

// Touch records a tool as used on the given turn, evicting the
// least-recently-touched entry if the budget is full and the tool is new.
func (b *ToolBudget) Touch(name string, turn int, at time.Time) {
	for i, it := range b.items {
		if it.name == name {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.items = append(b.items, toolUse{name: name, turn: turn, at: at})
			return
		}
	}
	if len(b.items) >= b.cap {
		b.items = b.items[1:]
	}
	b.items = append(b.items, toolUse{name: name, turn: turn, at: at})
}

// UsedWithinLastNTurns reports whether name was touched within the last n
// turns counted back from currentTurn (tool-continuity threshold, §4.9).
func (b *ToolBudget) UsedWithinLastNTurns(name string, currentTurn, n int) bool {
	for _, it := range b.items {
		if it.name == name {
			return currentTurn-it.turn <= n
		}
	}
	return false
}

// Names returns all tool names currently held in the budget, oldest first.
func (b *ToolBudget) Names() []string {
	out := make([]string, len(b.items))
	for i, it := range b.items {
		out[i] = it.name
	}
	return out
}
