package model

import "errors"

// Error kinds matched with errors.Is. Each is a sentinel wrapped with
// fmt.Errorf("...: %w", ...) at the call site, the plain wrapping idiom used
// throughout this codebase rather than a structured error-value library —
// the standard library's errors.Is/As already does everything a
// third-party error-kind package would add here.
var (
	// ErrConfig covers a missing manifest, missing db map, or malformed
	// JSON. Fatal at load time, exit code 2.
	ErrConfig = errors.New("config error")

	// ErrMapping covers an unresolved database referenced by a
	// non-archived question, or a mapped target database absent on the
	// target. Fatal before any write, exit code 1.
	ErrMapping = errors.New("mapping error")

	// ErrReference covers a missing question dependency discovered at
	// install time. Item-level failure only.
	ErrReference = errors.New("reference error")

	// ErrSchemaDrift covers a table or field name absent on the target.
	// Warned during resolver construction; only fatal to the specific
	// item that actually needed the missing id.
	ErrSchemaDrift = errors.New("schema drift error")

	// ErrTransport covers a client call that failed after exhausting its
	// retry budget. Item-level failure.
	ErrTransport = errors.New("transport error")
)

// ConflictDecision is not an error — it records a skip or rename outcome
// for an item the installer chose not to create anew.
type ConflictDecision struct {
	Strategy ConflictStrategy
	Existing int
}
