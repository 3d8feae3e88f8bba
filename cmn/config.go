package cmn

import (
	"sync/atomic"
	"time"
)

// Config is the process-wide configuration assembled by cmd/rfsworker from
// CLI flags and environment variables. It is held behind an atomic pointer
// the way the teacher's cmn.GCO global config is, since configuration
// (unlike work-item or lease state) is legitimately process-wide ambient
// state rather than business logic that should be threaded explicitly.
type Config struct {
	// Client holds HTTP client tuning shared by the pipeline, metadata
	// migrator, and any live-source HTTP reads.
	Client ClientConfig

	// Pipeline tuning (spec §6 CLI surface).
	MaxDocsPerBulk            int
	MaxBytesPerBulk           int64
	MaxConcurrentBulkRequests int
	TransformPoolSize         int

	// UserAgent is stamped on every outgoing HTTP call per spec §6.
	UserAgent string

	// Simulate puts the metadata migrator into dry-run mode: transform and
	// validate, skip writes. The document pipeline does not read it.
	Simulate bool

	MinReplicas int

	// TargetAuthToken, when set, is sent as a Bearer credential on every
	// request to the target cluster (spec §6's --target-auth-token).
	TargetAuthToken string
}

type ClientConfig struct {
	Timeout    time.Duration
	UseHTTPS   bool
	SkipVerify bool
}

func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout: 30 * time.Second,
		},
		MaxDocsPerBulk:            1000,
		MaxBytesPerBulk:           10 * 1024 * 1024,
		MaxConcurrentBulkRequests: 4,
		TransformPoolSize:         0, // 0 => CPU count, resolved by the pipeline
		UserAgent:                 "rfs-worker",
	}
}

var global atomic.Pointer[Config]

func init() {
	global.Store(DefaultConfig())
}

// Cfg returns the current process-wide configuration.
func Cfg() *Config { return global.Load() }

// SetCfg installs a new process-wide configuration, returning the previous
// one. Intended for use only by cmd/rfsworker at startup and by tests.
func SetCfg(c *Config) *Config {
	return global.Swap(c)
}
