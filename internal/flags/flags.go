// Package flags centralizes CLI flag names so commands and help text stay
// consistent.
package flags

const (
	// Source
	FlagRepo       = "repo"
	FlagSourceBase = "source-base"
	FlagCloneDir   = "clone-dir"

	// Target
	FlagProjectID   = "project-id"
	FlagNamespaceID = "namespace-id"
	FlagCreatorID   = "creator-id"
	FlagGhostUserID = "ghost-user-id"
	FlagPostgres    = "postgres"
	FlagUploadsDir  = "uploads-dir"
	FlagTargetBase  = "target-base"

	// Cache
	FlagRedis       = "redis"
	FlagCachePrefix = "cache-prefix"

	// Runtime
	FlagParallel    = "parallel"
	FlagWorkers     = "workers"
	FlagStagger     = "stagger"
	FlagWaitTimeout = "wait-timeout"
	FlagTimeout     = "timeout"

	// Output
	FlagConsoleFormat = "console-format"
	FlagMetricsAddr   = "metrics-addr"

	// Misc
	FlagConfig = "config"
)
