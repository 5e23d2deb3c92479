package store

import (
	"fmt"

	"auditcore/pkg/platform/sentinel"
)

// ErrTimelineDisabled is returned by Timeline when the tenant's timeline
// flag is off. It wraps sentinel.ErrInvalidState so transports can map it
// without importing this package.
var ErrTimelineDisabled = fmt.Errorf("timeline disabled for tenant: %w", sentinel.ErrInvalidState)
