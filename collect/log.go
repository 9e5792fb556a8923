package collect

import "github.com/tekert/psfmonitor/monitor"

// collog is the sampled collector logger shared with the engine.
var collog = monitor.CollectorLog()
