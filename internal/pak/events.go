package pak

import "fmt"

// EventKind is the type of a change to the source tree.
type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventRemoved
	// EventNewMetadata means size or mtime changed but the bytes did not.
	EventNewMetadata
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	case EventNewMetadata:
		return "new_metadata"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// InputEvent is one entry of the change feed.
type InputEvent struct {
	Kind EventKind
	Path InputPath
}

func (e InputEvent) String() string {
	return e.Kind.String() + " " + e.Path.String()
}

// Created, Modified, Removed and NewMetadata build events.
func Created(p InputPath) InputEvent     { return InputEvent{Kind: EventCreated, Path: p} }
func Modified(p InputPath) InputEvent    { return InputEvent{Kind: EventModified, Path: p} }
func Removed(p InputPath) InputEvent     { return InputEvent{Kind: EventRemoved, Path: p} }
func NewMetadata(p InputPath) InputEvent { return InputEvent{Kind: EventNewMetadata, Path: p} }
