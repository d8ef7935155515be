package task

import "errors"

var (
	// ErrExitedEarly is returned by Handle.ExitEarly. A task function that
	// returns it ends without a result and without failing.
	ErrExitedEarly = errors.New("task exited early")
	// ErrNoConfirmer is returned when a confirmation is requested but no one
	// listens for confirmation requests.
	ErrNoConfirmer = errors.New("no confirmation channel configured")
)
