package writer

import "errors"

// Construction-time configuration errors. Write itself never returns an
// error; only New can fail.
var (
	errOutboxRequired   = errors.New("outbox is required")
	errResolverRequired = errors.New("flag resolver is required")
)
