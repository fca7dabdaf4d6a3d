package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCmd mutates a shared slice so tests can observe apply/undo ordering.
type fakeCmd struct {
	name string
	log  *[]string
	fail error
}

func (c *fakeCmd) Apply() error {
	if c.fail != nil {
		return c.fail
	}
	*c.log = append(*c.log, "+"+c.name)
	return nil
}

func (c *fakeCmd) Undo() { *c.log = append(*c.log, "-"+c.name) }

func (c *fakeCmd) Text() string { return c.name }

func TestUndoStack_PushUndoRedo(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()

	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	require.NoError(t, s.Push(&fakeCmd{name: "b", log: &log}))
	require.Equal(t, []string{"+a", "+b"}, log)
	require.True(t, s.CanUndo())
	require.False(t, s.CanRedo())
	assert.Equal(t, "b", s.UndoText())

	require.True(t, s.Undo())
	require.Equal(t, []string{"+a", "+b", "-b"}, log)
	require.True(t, s.CanRedo())
	assert.Equal(t, "b", s.RedoText())

	require.NoError(t, s.Redo())
	require.Equal(t, []string{"+a", "+b", "-b", "+b"}, log)
}

func TestUndoStack_RejectedPushNotRecorded(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()
	boom := errors.New("invalid")

	err := s.Push(&fakeCmd{name: "x", log: &log, fail: boom})

	require.ErrorIs(t, err, boom)
	require.False(t, s.CanUndo())
	require.Empty(t, log)
}

func TestUndoStack_PushTruncatesRedoTail(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()
	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	require.NoError(t, s.Push(&fakeCmd{name: "b", log: &log}))
	require.True(t, s.Undo())

	require.NoError(t, s.Push(&fakeCmd{name: "c", log: &log}))

	require.False(t, s.CanRedo())
	require.True(t, s.Undo())
	assert.Equal(t, "-c", log[len(log)-1])
}

func TestUndoStack_UndoOnEmptyReportsFalse(t *testing.T) {
	t.Parallel()

	s := NewUndoStack()
	require.False(t, s.Undo())
	require.NoError(t, s.Redo())
}

func TestUndoStack_CleanMarker(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()
	require.True(t, s.IsClean())

	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	require.False(t, s.IsClean())

	s.SetClean()
	require.True(t, s.IsClean())

	require.NoError(t, s.Push(&fakeCmd{name: "b", log: &log}))
	require.False(t, s.IsClean())
	require.True(t, s.Undo())
	require.True(t, s.IsClean())

	t.Run("saved state truncated away stays dirty", func(t *testing.T) {
		require.NoError(t, s.Push(&fakeCmd{name: "c", log: &log}))
		s.SetClean()
		require.True(t, s.Undo())
		require.NoError(t, s.Push(&fakeCmd{name: "d", log: &log}))

		require.False(t, s.IsClean())
		require.True(t, s.Undo())
		require.False(t, s.IsClean())
	})
}

func TestUndoStack_MacroGroupsCommands(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()

	s.BeginMacro("Group")
	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	require.NoError(t, s.Push(&fakeCmd{name: "b", log: &log}))
	s.EndMacro()

	assert.Equal(t, "Group", s.UndoText())
	require.True(t, s.Undo())
	require.Equal(t, []string{"+a", "+b", "-b", "-a"}, log)

	require.NoError(t, s.Redo())
	require.Equal(t, []string{"+a", "+b", "-b", "-a", "+a", "+b"}, log)
}

func TestUndoStack_NestedMacrosCollapseIntoOne(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()

	s.BeginMacro("outer")
	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	s.BeginMacro("inner")
	require.NoError(t, s.Push(&fakeCmd{name: "b", log: &log}))
	s.EndMacro()
	s.EndMacro()

	require.True(t, s.Undo())
	require.Equal(t, []string{"+a", "+b", "-b", "-a"}, log)
	require.False(t, s.CanUndo())
}

func TestUndoStack_EmptyMacroDropped(t *testing.T) {
	t.Parallel()

	s := NewUndoStack()
	s.BeginMacro("nothing")
	s.EndMacro()

	require.False(t, s.CanUndo())
}

func TestUndoStack_AbortMacroLeavesNoTrace(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()

	s.BeginMacro("partial")
	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))
	s.AbortMacro()

	require.Equal(t, []string{"+a", "-a"}, log)
	require.False(t, s.CanUndo())
	assert.Equal(t, 0, s.MacroDepth())
}

func TestUndoStack_UnmatchedCallsPanic(t *testing.T) {
	t.Parallel()

	t.Run("EndMacro", func(t *testing.T) {
		require.Panics(t, func() { NewUndoStack().EndMacro() })
	})
	t.Run("AbortMacro", func(t *testing.T) {
		require.Panics(t, func() { NewUndoStack().AbortMacro() })
	})
	t.Run("Undo with open macro", func(t *testing.T) {
		s := NewUndoStack()
		s.BeginMacro("open")
		require.Panics(t, func() { s.Undo() })
	})
	t.Run("Redo with open macro", func(t *testing.T) {
		s := NewUndoStack()
		s.BeginMacro("open")
		require.Panics(t, func() { _ = s.Redo() })
	})
}

func TestUndoStack_Clear(t *testing.T) {
	t.Parallel()

	var log []string
	s := NewUndoStack()
	require.NoError(t, s.Push(&fakeCmd{name: "a", log: &log}))

	s.Clear()

	require.False(t, s.CanUndo())
	require.False(t, s.CanRedo())
	require.True(t, s.IsClean())
}
