package daemon

import "github.com/joshnel2/DecentralizedTechSolutions/internal/config"

// StartOptions configures the worker process. Config is loaded from Home
// when nil.
type StartOptions struct {
	Home      string
	Port      int // overrides Config.Server.Port when non-zero
	Dev       bool
	PprofAddr string
	Version   string
	EnvFile   string // passed to the background child
	Config    *config.Config
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
