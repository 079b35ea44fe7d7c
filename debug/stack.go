package debug

import "fmt"

// StackFrame is one frame of a paused session's call stack. A full
// ordered list forms one point-in-time snapshot; the session replaces
// the whole list atomically and clears it on leaving Paused.
type StackFrame struct {
	// ID is the adapter-assigned frame id, valid while Paused.
	ID int `json:"id"`

	// Name is the display name, typically the function.
	Name string `json:"name"`

	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the 1-based current line.
	Line int `json:"line"`

	// Column is the 1-based current column.
	Column int `json:"column"`

	// Source is an optional display label for the source.
	Source string `json:"source,omitempty"`
}

// Location formats the frame as "file:line".
func (f StackFrame) Location() string {
	if f.File == "" {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}
