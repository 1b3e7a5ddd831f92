package plan

import "errors"

// ErrUnsupported is returned when a statement contains a fragment the
// extractor cannot represent as a logical plan. Callers must decline to
// optimize the query rather than guess.
var ErrUnsupported = errors.New("unsupported sql fragment")

// ErrEmptyStatement is returned when the input parses to no statements.
var ErrEmptyStatement = errors.New("empty statement")
