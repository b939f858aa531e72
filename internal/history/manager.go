// Package history implements the bounded, linear undo/redo stack used by
// canvas editing sessions.
package history

// DefaultCapacity is the number of actions kept before the oldest is evicted.
const DefaultCapacity = 50

// Manager is a fixed-capacity ring of actions with a cursor. Entries at or
// below the cursor are undoable; entries above it form the redo tail.
// It holds no canvas semantics and is not safe for concurrent use.
type Manager struct {
	entries []Action
	start   int
	length  int
	cursor  int
}

// NewManager constructs a manager holding at most capacity actions.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		entries: make([]Action, capacity),
		cursor:  -1,
	}
}

// Capacity returns the maximum number of retained actions.
func (m *Manager) Capacity() int {
	return len(m.entries)
}

// Len returns the number of retained actions, including the redo tail.
func (m *Manager) Len() int {
	return m.length
}

// Cursor returns the logical index of the most recently applied action, or -1.
func (m *Manager) Cursor() int {
	return m.cursor
}

// Add pushes an action, discarding any redo tail and evicting the oldest
// entry when the ring is full.
func (m *Manager) Add(action Action) {
	m.length = m.cursor + 1
	if m.length == len(m.entries) {
		m.entries[m.start] = Action{}
		m.start = (m.start + 1) % len(m.entries)
		m.length--
		m.cursor--
	}
	m.entries[m.physical(m.length)] = action
	m.length++
	m.cursor = m.length - 1
	m.clearTail()
}

// Undo returns the action at the cursor and steps back. It reports false
// when there is nothing to undo.
func (m *Manager) Undo() (Action, bool) {
	if m.cursor < 0 {
		return Action{}, false
	}
	action := m.entries[m.physical(m.cursor)]
	m.cursor--
	return action, true
}

// Redo steps forward and returns the action now at the cursor. It reports
// false when there is nothing to redo.
func (m *Manager) Redo() (Action, bool) {
	if m.cursor+1 >= m.length {
		return Action{}, false
	}
	m.cursor++
	return m.entries[m.physical(m.cursor)], true
}

// CanUndo reports whether Undo would return an action.
func (m *Manager) CanUndo() bool {
	return m.cursor >= 0
}

// CanRedo reports whether Redo would return an action.
func (m *Manager) CanRedo() bool {
	return m.cursor+1 < m.length
}

// Clear drops every action.
func (m *Manager) Clear() {
	for index := range m.entries {
		m.entries[index] = Action{}
	}
	m.start = 0
	m.length = 0
	m.cursor = -1
}

// Actions returns the retained actions oldest first.
func (m *Manager) Actions() []Action {
	actions := make([]Action, 0, m.length)
	for index := 0; index < m.length; index++ {
		actions = append(actions, m.entries[m.physical(index)])
	}
	return actions
}

func (m *Manager) physical(logical int) int {
	return (m.start + logical) % len(m.entries)
}

// clearTail zeroes slots beyond the logical length so evicted payloads can
// be collected.
func (m *Manager) clearTail() {
	for index := m.length; index < len(m.entries); index++ {
		m.entries[m.physical(index)] = Action{}
	}
}
