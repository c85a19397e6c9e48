package command

import "errors"

// Domain errors for the command package.
//
//	if errors.Is(err, command.ErrCommandNotFound) {
//	    // handle not found case
//	}
var (
	// ErrCommandNotFound is returned when a command id does not exist.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrDesiredStateNotFound is returned when no desired state exists for a device topic.
	ErrDesiredStateNotFound = errors.New("command: desired state not found")

	// ErrInvalidRequest is returned when a dispatch request lacks a device or topic.
	ErrInvalidRequest = errors.New("command: invalid request")
)
