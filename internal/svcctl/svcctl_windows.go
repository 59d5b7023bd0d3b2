//go:build windows

package svcctl

import (
	"fmt"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// stopTimeout bounds how long Stop waits for a service to reach the stopped
// state before giving up.
const stopTimeout = 30 * time.Second

// SCM is a Controller backed by the Windows service control manager.
// Each call opens its own SCM connection.
type SCM struct{}

// New returns a Controller backed by the local service control manager.
func New() *SCM { return &SCM{} }

// Status queries the named service.
func (s *SCM) Status(name string) (State, error) {
	m, err := mgr.Connect()
	if err != nil {
		return StateUnknown, fmt.Errorf("connect to SCM: %w", err)
	}
	defer m.Disconnect()

	service, err := m.OpenService(name)
	if err != nil {
		return StateUnknown, fmt.Errorf("open service %s: %w", name, err)
	}
	defer service.Close()

	status, err := service.Query()
	if err != nil {
		return StateUnknown, fmt.Errorf("query %s: %w", name, err)
	}

	return mapState(status.State), nil
}

// Stop sends a stop control and waits for the service to reach the stopped
// state.
func (s *SCM) Stop(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to SCM: %w", err)
	}
	defer m.Disconnect()

	service, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer service.Close()

	status, err := service.Control(svc.Stop)
	if err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for status.State != svc.Stopped {
		if time.Now().After(deadline) {
			return fmt.Errorf("stop %s: timed out waiting for stopped state", name)
		}
		time.Sleep(500 * time.Millisecond)
		status, err = service.Query()
		if err != nil {
			return fmt.Errorf("query %s while stopping: %w", name, err)
		}
	}

	return nil
}

// Start starts the named service.
func (s *SCM) Start(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to SCM: %w", err)
	}
	defer m.Disconnect()

	service, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer service.Close()

	if err := service.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

func mapState(state svc.State) State {
	switch state {
	case svc.Running, svc.StartPending, svc.ContinuePending:
		return StateRunning
	case svc.Stopped, svc.StopPending, svc.PausePending, svc.Paused:
		return StateStopped
	default:
		return StateUnknown
	}
}
