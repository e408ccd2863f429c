package listing

import (
	"errors"
	"fmt"
)

// FailKind classifies a failed fetch for error records and retry policy.
type FailKind string

const (
	// FailNetwork covers transport errors and unexpected statuses.
	FailNetwork FailKind = "network"
	// FailBlocked means the upstream denied access to this client or
	// network. Not transient: retrying inside the same cycle only digs the
	// hole deeper, so blocked fetches wait for the next scheduled tick.
	FailBlocked FailKind = "blocked"
	// FailTimeout means the request exceeded its deadline.
	FailTimeout FailKind = "timeout"
	// FailParse means the upstream answered but the payload was not a
	// recognizable results page.
	FailParse FailKind = "parse_unavailable"
)

// FetchError is a classified fetch failure.
type FetchError struct {
	Kind FailKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyErr returns the FailKind of err, defaulting to FailNetwork for
// anything unclassified.
func ClassifyErr(err error) FailKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailNetwork
}
