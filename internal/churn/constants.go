package churn

import "time"

// Operation mix: each cycle creates a file, modifies it, then removes it.
const (
	opsPerCycle = 3
	filePrefix  = "churn-"
	fileSuffix  = ".tmp"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
	logFilePermission   = 0o600
)

// Runner configuration constants.
const (
	DefaultSettle        = 2 * time.Second
	PercentageMultiplier = 100
)
