package tinyml

import "errors"

var (
	// ErrSchemaVersion is returned when a model was produced for a
	// different runtime schema.
	ErrSchemaVersion = errors.New("tinyml: model schema version mismatch")
	// ErrMalformedModel is returned for artifacts that cannot be decoded
	// or reference tensors that do not exist.
	ErrMalformedModel = errors.New("tinyml: malformed model")
	// ErrUnsupportedOp is returned for operators outside the runtime's op set.
	ErrUnsupportedOp = errors.New("tinyml: unsupported operator")
	// ErrShapeMismatch is returned when an operator's tensors disagree with
	// what the operator produces.
	ErrShapeMismatch = errors.New("tinyml: tensor shape mismatch")
	// ErrArenaTooSmall is returned when the planned tensors do not fit.
	ErrArenaTooSmall = errors.New("tinyml: tensor arena too small")
	// ErrNoPool is returned when no memory pool can hold the arena.
	ErrNoPool = errors.New("tinyml: no memory pool can satisfy the arena")
	// ErrNotAllocated is returned by Invoke before AllocateTensors succeeded.
	ErrNotAllocated = errors.New("tinyml: tensors not allocated")
)
