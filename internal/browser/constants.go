package browser

import "time"

const (
	// DefaultDebugPort is the conventional Chrome remote debugging port.
	DefaultDebugPort = 9222

	// ScanPortStart and ScanPortEnd bound the inclusive port range the
	// scanner probes for running instances.
	ScanPortStart = 9222
	ScanPortEnd   = 9232
)

const (
	// launchReadyTimeout bounds the wait for a freshly launched
	// Chrome's debug port to answer.
	launchReadyTimeout = 15 * time.Second

	// probeTimeout bounds a single TCP probe during a port scan.
	probeTimeout = 300 * time.Millisecond
)
