package lakehouse

import (
	"errors"

	"github.com/corelake/lakehouse/internal/catalog"
	"github.com/corelake/lakehouse/internal/timeline"
	"github.com/corelake/lakehouse/internal/txn"
)

// ErrorKind is the language-neutral error classification of spec.md §7.
// The engine never returns raw internal sentinels to callers; Classify
// maps every internal error onto exactly one of these.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindCancelled
	KindDeadlineExceeded
	KindSchemaMismatch
	KindBreakingChange
	KindIntegrityFailure
	KindStorageError
	KindConfigError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindCancelled:
		return "Cancelled"
	case KindDeadlineExceeded:
		return "DeadlineExceeded"
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindBreakingChange:
		return "BreakingChange"
	case KindIntegrityFailure:
		return "IntegrityFailure"
	case KindStorageError:
		return "StorageError"
	case KindConfigError:
		return "ConfigError"
	default:
		return "Unknown"
	}
}

// ErrSchemaMismatch is returned when a record violates a column's type or
// nullability at write time; it has no single internal-package sentinel
// to wrap, since the mismatch is detected in this facade's own
// validation, not inside catalog or hybrid.
var ErrSchemaMismatch = errors.New("lakehouse: record does not match table schema")

// Classify maps an internal error onto its language-neutral kind using
// errors.Is against the sentinels each subsystem already defines, never
// by matching error strings.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, timeline.ErrNotFound):
		return KindNotFound
	case errors.Is(err, catalog.ErrExists):
		return KindConflict
	case errors.Is(err, txn.ErrConflict):
		return KindConflict
	case errors.Is(err, catalog.ErrBreakingChange):
		return KindBreakingChange
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, errIntegrity):
		return KindIntegrityFailure
	case errors.Is(err, errConfig):
		return KindConfigError
	default:
		return classifyContext(err)
	}
}
