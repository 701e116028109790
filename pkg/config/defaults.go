package config

import "time"

// Default configuration values for endstate.
const (
	// AppName names the config, data and state directories.
	AppName = "endstate"

	// EnvPrefix prefixes every environment override (ENDSTATE_DRIVER, ...).
	EnvPrefix = "ENDSTATE"

	// DefaultManifest is the manifest path used when none is given.
	DefaultManifest = "endstate.jsonc"

	// DefaultThrottle is the default number of concurrent installs.
	DefaultThrottle = 4

	// DefaultInstallTimeout disables the per-install timeout.
	DefaultInstallTimeout = time.Duration(0)

	// DefaultVerifyCommandTimeout bounds command-succeeds checks.
	DefaultVerifyCommandTimeout = 30 * time.Second

	// DefaultIndexFile is the SQLite run index file name inside the data dir.
	DefaultIndexFile = "index.db"
)
