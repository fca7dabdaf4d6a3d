// Package history implements the reversible-edit layer: commands, nestable
// macros, and the undo stack with a cursor and a clean marker.
//
// A command captures one graph edit as an apply/undo pair and is immutable
// once created; the stack decides sequencing. Macros group commands under
// one label so composite edits undo and redo as a single unit.
package history

import "fmt"

// Command is one reversible edit. Apply performs the edit and may fail,
// in which case the edit must have left no partial state behind. Undo
// reverses a previously applied edit and must not fail.
type Command interface {
	Apply() error
	Undo()
	Text() string
}

// Macro is an ordered group of commands applied in declaration order and
// undone in exact reverse order. The stack builds macros through
// BeginMacro/EndMacro; the commands inside were each applied individually
// when pushed, so Macro.Apply only runs on redo.
type Macro struct {
	text string
	cmds []Command
}

// Apply re-applies the grouped commands in order. The commands succeeded
// when first pushed, so a failure here means the surrounding state has
// been corrupted; the error is propagated after rolling back the applied
// prefix to keep the all-or-nothing contract.
func (m *Macro) Apply() error {
	for i, cmd := range m.cmds {
		if err := cmd.Apply(); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.cmds[j].Undo()
			}
			return fmt.Errorf("macro %q: %w", m.text, err)
		}
	}
	return nil
}

// Undo reverses the grouped commands in reverse order.
func (m *Macro) Undo() {
	for i := len(m.cmds) - 1; i >= 0; i-- {
		m.cmds[i].Undo()
	}
}

// Text returns the macro's label.
func (m *Macro) Text() string { return m.text }

// Len returns the number of grouped commands.
func (m *Macro) Len() int { return len(m.cmds) }

// UndoStack is an ordered sequence of commands and macros with a cursor.
// Pushing discards any redoable tail. The clean marker tracks whether the
// edited state matches the last saved state.
//
// The stack is owned by the orchestrator's home goroutine and is not safe
// for concurrent use.
type UndoStack struct {
	cmds    []Command
	cursor  int
	cleanAt int // cursor value of the saved state; -1 when unreachable
	open    []*Macro
}

// NewUndoStack creates an empty, clean stack.
func NewUndoStack() *UndoStack {
	return &UndoStack{}
}

// Push tries to apply the command. A failed apply is not recorded and the
// error is returned. On success the command is recorded exactly once:
// appended to the innermost open macro if one exists, otherwise pushed to
// the stack, discarding any redoable tail.
func (s *UndoStack) Push(cmd Command) error {
	if err := cmd.Apply(); err != nil {
		return err
	}
	if len(s.open) > 0 {
		m := s.open[len(s.open)-1]
		m.cmds = append(m.cmds, cmd)
		return nil
	}
	s.record(cmd)
	return nil
}

// BeginMacro opens a macro boundary. Calls may nest; only the outermost
// pair produces one undoable history entry. Every BeginMacro must be
// matched by exactly one EndMacro.
func (s *UndoStack) BeginMacro(text string) {
	s.open = append(s.open, &Macro{text: text})
}

// EndMacro closes the innermost macro. Closing with no macro open is a
// caller bug and fails fast. An outermost macro that collected no commands
// is dropped rather than recorded.
func (s *UndoStack) EndMacro() {
	if len(s.open) == 0 {
		panic("history: EndMacro without matching BeginMacro")
	}
	m := s.open[len(s.open)-1]
	s.open = s.open[:len(s.open)-1]

	if len(s.open) > 0 {
		parent := s.open[len(s.open)-1]
		parent.cmds = append(parent.cmds, m)
		return
	}
	if m.Len() == 0 {
		return
	}
	s.record(m)
}

// AbortMacro discards the innermost open macro, undoing any commands it
// collected in reverse order. Composite edits use this when a later step
// fails validation, so the earlier steps leave no trace. Aborting with no
// macro open is a caller bug.
func (s *UndoStack) AbortMacro() {
	if len(s.open) == 0 {
		panic("history: AbortMacro without matching BeginMacro")
	}
	m := s.open[len(s.open)-1]
	s.open = s.open[:len(s.open)-1]
	m.Undo()
}

// MacroDepth returns the current macro nesting depth. The graph is only
// considered idle for modification purposes at depth zero.
func (s *UndoStack) MacroDepth() int { return len(s.open) }

// CanUndo reports whether an undoable entry exists.
func (s *UndoStack) CanUndo() bool { return s.cursor > 0 }

// CanRedo reports whether a redoable entry exists.
func (s *UndoStack) CanRedo() bool { return s.cursor < len(s.cmds) }

// Undo reverses the entry below the cursor. It reports whether anything
// was undone. Undoing while a macro is open is a caller bug.
func (s *UndoStack) Undo() bool {
	if len(s.open) > 0 {
		panic("history: Undo with an open macro")
	}
	if s.cursor == 0 {
		return false
	}
	s.cursor--
	s.cmds[s.cursor].Undo()
	return true
}

// Redo re-applies the entry at the cursor. A failed apply leaves the
// cursor where it was. Redoing while a macro is open is a caller bug.
func (s *UndoStack) Redo() error {
	if len(s.open) > 0 {
		panic("history: Redo with an open macro")
	}
	if s.cursor == len(s.cmds) {
		return nil
	}
	if err := s.cmds[s.cursor].Apply(); err != nil {
		return err
	}
	s.cursor++
	return nil
}

// UndoText returns the label of the entry Undo would reverse.
func (s *UndoStack) UndoText() string {
	if !s.CanUndo() {
		return ""
	}
	return s.cmds[s.cursor-1].Text()
}

// RedoText returns the label of the entry Redo would re-apply.
func (s *UndoStack) RedoText() string {
	if !s.CanRedo() {
		return ""
	}
	return s.cmds[s.cursor].Text()
}

// SetClean marks the current cursor position as the saved state.
func (s *UndoStack) SetClean() { s.cleanAt = s.cursor }

// IsClean reports whether the current state matches the last saved state.
func (s *UndoStack) IsClean() bool { return s.cleanAt == s.cursor }

// Clear drops all history. Open macros must have been closed.
func (s *UndoStack) Clear() {
	if len(s.open) > 0 {
		panic("history: Clear with an open macro")
	}
	s.cmds = nil
	s.cursor = 0
	s.cleanAt = 0
}

// record appends an applied entry at the cursor, truncating the redo tail.
func (s *UndoStack) record(cmd Command) {
	if s.cursor < len(s.cmds) {
		s.cmds = s.cmds[:s.cursor]
		if s.cleanAt > s.cursor {
			// The saved state lived in the discarded tail; it can no longer
			// be reached through undo/redo.
			s.cleanAt = -1
		}
	}
	s.cmds = append(s.cmds, cmd)
	s.cursor++
}
