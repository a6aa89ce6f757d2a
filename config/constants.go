package config

// CLI style log verbosity values accepted by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Storage backend names. See the adapters package.
const (
	BackendOS     = "os"
	BackendMemory = "memory"
)
