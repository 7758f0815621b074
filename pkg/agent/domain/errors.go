package domain

import (
	"github.com/pkg/errors"
)

var (
	// ErrAgentProtocol means a collaborator returned a malformed or missing structured result
	ErrAgentProtocol = errors.New("agent protocol error")
	// ErrLoopGuardExceeded means the step-completion loop hit its iteration bound
	ErrLoopGuardExceeded = errors.New("loop guard exceeded")
	// ErrCollaboratorUnavailable means an auxiliary service could not be reached
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// ProtocolError wraps ErrAgentProtocol with detail
func ProtocolError(format string, args ...any) error {
	return errors.Wrapf(ErrAgentProtocol, format, args...)
}

// Unavailable wraps err as ErrCollaboratorUnavailable, keeping its message
func Unavailable(service string, err error) error {
	return errors.Wrapf(ErrCollaboratorUnavailable, "%s: %v", service, err)
}
