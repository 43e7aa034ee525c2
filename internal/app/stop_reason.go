package app

// StopReason says why the app is shutting down. It is logged on Stop.
type StopReason string

const (
	StopUnknown          StopReason = "unknown"
	StopSignal           StopReason = "signal"
	StopFatalError       StopReason = "fatal_error"
	StopSourceTerminated StopReason = "source_terminated"
)
