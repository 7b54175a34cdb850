package models

import "fmt"

// The pipeline distinguishes four failure kinds. All of them are fatal
// for the run: a silently incomplete card export has access-control
// consequences, so nothing is caught and ignored.

// ConfigError reports a malformed or contradictory configuration. Query
// is the index of the offending query, or -1 when the error is not tied
// to a single query.
type ConfigError struct {
	Query  int
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Query >= 0 {
		return fmt.Sprintf("invalid query %d: %s", e.Query, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// FetchError reports an upstream source failing after the client's own
// retry policy was exhausted.
type FetchError struct {
	Query  int
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Query >= 0 {
		return fmt.Sprintf("query %d (%s): fetch failed: %v", e.Query, e.Source, e.Err)
	}
	return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeError reports an upstream record missing one of the mandatory
// card fields (id, status, cardType). This signals upstream data
// corruption rather than a client bug.
type NormalizeError struct {
	Query  int
	Reason string
}

func (e *NormalizeError) Error() string {
	if e.Query >= 0 {
		return fmt.Sprintf("query %d: %s", e.Query, e.Reason)
	}
	return e.Reason
}

// SnapshotError reports a prior export file that is unreadable or
// malformed. Fatal only for incremental runs; non-incremental runs never
// read a snapshot.
type SnapshotError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SnapshotError) Error() string {
	msg := fmt.Sprintf("snapshot %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SnapshotError) Unwrap() error { return e.Err }
