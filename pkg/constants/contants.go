package constants

const (
	DefaultMetricsAddr = "127.0.0.1:9090"
	DefaultResourceID  = "test"
)

const (
	LocalLockManager       = "local"
	CooperativeLockManager = "cooperative"
)
