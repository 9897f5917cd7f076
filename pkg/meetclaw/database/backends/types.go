package backends

import "time"

// Status is the raw health snapshot reported by a backend.
type Status struct {
	Healthy         bool
	Version         string
	Error           string
	Latency         time.Duration
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
	WaitDuration    time.Duration
	MaxOpenConns    int
}

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LatestVersion returns the highest version in migrations.
func LatestVersion(migrations []Migration) int {
	latest := 0
	for _, m := range migrations {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}
