package stops

import "errors"

// Failure kinds for store and resolver operations. They are matched with
// errors.Is at the HTTP boundary; wrapped messages travel unchanged.
var (
	// ErrNotFound: a name pattern or code lookup matched no rows.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable: the backing dataset is missing or unreachable.
	ErrUnavailable = errors.New("data source unavailable")

	// ErrQuery: malformed query construction. Should not occur in correct
	// code; propagated unchanged when it does.
	ErrQuery = errors.New("query error")
)
