package interfaces

import "errors"

// ErrStoreUnavailable wraps store reachability failures.
var ErrStoreUnavailable = errors.New("store unavailable")
