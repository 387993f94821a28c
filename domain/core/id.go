package core

import "github.com/google/uuid"

// ID is an opaque identifier
type ID string

// NewID returns a time-ordered UUID v7, falling back to v4
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

func (id ID) String() string { return string(id) }

// IsEmpty reports whether the ID is unset
func (id ID) IsEmpty() bool { return id == "" }

// RunID names one pipeline invocation; manifests and logs carry it
type RunID ID

func (id RunID) String() string { return string(id) }

// NewRunID creates an identifier for one pipeline invocation
func NewRunID() RunID {
	return RunID(NewID())
}
