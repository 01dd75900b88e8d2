package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnrecognizedFormat  = errors.New("unrecognized statement format")
	ErrNoTransactionsFound = errors.New("no transactions found")
	ErrEmptyInput          = errors.New("input is empty")
	ErrUndecodableInput    = errors.New("input could not be decoded")
	ErrInputTooLarge       = errors.New("input exceeds the maximum upload size")
	ErrTooManyRows         = errors.New("input exceeds the maximum row count")
	ErrUnknownSourceKind   = errors.New("unknown source kind")
	ErrCommitFailed        = errors.New("commit failed")
)

// UnrecognizedFormatError is returned when no mapping profile matches an upload.
type UnrecognizedFormatError struct {
	Kind   SourceKind
	Known  []string
	Reason string
}

func (e *UnrecognizedFormatError) Error() string {
	var b strings.Builder
	b.WriteString(ErrUnrecognizedFormat.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	b.WriteString("; specify the source explicitly")
	if len(e.Known) > 0 {
		fmt.Fprintf(&b, " (one of: %s)", strings.Join(e.Known, ", "))
	}
	return b.String()
}

func (e *UnrecognizedFormatError) Is(target error) bool {
	return target == ErrUnrecognizedFormat
}

// CommitError is returned when the store could not complete a commit.
// Inserted is exact when Partial is set; otherwise the store guarantees
// nothing from the failed batch was kept.
type CommitError struct {
	Inserted int
	Skipped  int
	Partial  bool
	Err      error
}

func (e *CommitError) Error() string {
	if e.Partial {
		return fmt.Sprintf("%s after inserting %d rows (%d duplicates skipped): %v", ErrCommitFailed, e.Inserted, e.Skipped, e.Err)
	}
	return fmt.Sprintf("%s, no rows inserted: %v", ErrCommitFailed, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailed
}
