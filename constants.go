package tinyrtos

import "github.com/lcaron/tinyrtos/internal/config"

// Re-exported configuration defaults, for callers that want the
// firmware's reference values without building a config.Config by hand.
const (
	DefaultTaskCount      = config.DefaultTaskCount
	DefaultTaskStackHint  = config.DefaultTaskStackHint
	DefaultHeapSize       = config.DefaultHeapSize
	DefaultQueueWarnDepth = config.DefaultQueueWarnDepth
)
