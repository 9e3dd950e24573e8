package runner

import (
	"errors"

	"github.com/deixis/overseer/internal/watchdog"
)

var (
	// ErrInvalidCommand is returned before anything is spawned when the
	// program or its arguments are missing, or the directory is out of bounds.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrSpawnFailure is returned when the OS could not start the process.
	ErrSpawnFailure = errors.New("spawn failure")
	// ErrIOFailure is returned when the output streams could not be set up or read.
	ErrIOFailure = errors.New("io failure")
	// ErrTimedOut is reported by Result.Err when the watchdog fired.
	ErrTimedOut = errors.New("timed out")
	// ErrTerminationFailure is returned when the watchdog fired but the
	// process could not be killed.
	ErrTerminationFailure = watchdog.ErrTerminationFailure
)
