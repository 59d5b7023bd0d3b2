//go:build !windows

package svcctl

import "errors"

var errUnsupported = errors.New("svcctl: service control is only available on windows")

// SCM is a stub Controller on non-Windows platforms.
type SCM struct{}

// New returns a stub Controller on non-Windows platforms.
func New() *SCM { return &SCM{} }

func (s *SCM) Status(string) (State, error) { return StateUnknown, errUnsupported }

func (s *SCM) Stop(string) error { return errUnsupported }

func (s *SCM) Start(string) error { return errUnsupported }
