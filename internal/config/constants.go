package config

// Lua schema field names and globals
const (
	luaGlobal = "dnsfallback"

	luaSectionSource  = "source"
	luaSectionPackage = "package"
	luaSectionTargets = "targets"
	luaSectionPublish = "publish"
	luaSectionOptions = "options"
)

// Resource limits
const (
	// MaxConfigSize is the largest configuration file accepted
	MaxConfigSize = 1 << 20
	// MaxConcurrency bounds options.concurrency
	MaxConcurrency = 64
	// MaxRetries bounds package.retries
	MaxRetries = 10
	// DefaultParseTimeout applies when the context has no deadline
	DefaultParseTimeout = 5 // seconds
)
