// Package svcctl restarts the system services the update pipeline depends on.
package svcctl

import (
	"time"

	"github.com/breeze-rmm/patchrun/internal/logging"
)

var log = logging.L("svcctl")

// State is a coarse service state.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateUnknown State = "unknown"
)

// Controller exposes the per-service operations RestartAll sequences.
// Stop blocks until the service has stopped or a controller-defined deadline
// passes.
type Controller interface {
	Status(name string) (State, error)
	Stop(name string) error
	Start(name string) error
}

// RestartAll restarts every named service in order: query, stop if running,
// wait out the settle delay, start. Every failure at any step is logged as a
// warning and the loop moves on; RestartAll never aborts and never reports an
// error to its caller.
func RestartAll(ctl Controller, names []string, settle time.Duration) {
	for _, name := range names {
		restartOne(ctl, name, settle)
	}
}

func restartOne(ctl Controller, name string, settle time.Duration) {
	state, err := ctl.Status(name)
	if err != nil {
		log.Warn("service status query failed", "service", name, logging.KeyError, err)
		return
	}

	if state == StateRunning {
		if err := ctl.Stop(name); err != nil {
			log.Warn("service stop failed", "service", name, logging.KeyError, err)
		}
	}

	if settle > 0 {
		time.Sleep(settle)
	}

	if err := ctl.Start(name); err != nil {
		log.Warn("service start failed", "service", name, logging.KeyError, err)
		return
	}

	log.Info("service restarted", "service", name)
}
