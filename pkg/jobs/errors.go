package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed job records.
	ErrValidation = errors.New("jobs validation error")
	// ErrInvalidArgument classifies caller bugs such as a negative delay.
	ErrInvalidArgument = errors.New("jobs invalid argument")
	// ErrConflict classifies state conflicts (for example a second processor).
	ErrConflict = errors.New("jobs conflict")
	// ErrNotFound classifies missing jobs.
	ErrNotFound = errors.New("jobs not found")
	// ErrTransient classifies connectivity and timeout failures of a backend.
	ErrTransient = errors.New("jobs transient backend error")
	// ErrProcessing classifies processor failures, panics and timeouts.
	ErrProcessing = errors.New("jobs processing error")
	// ErrRecovery classifies aborted local-to-persistent migrations.
	ErrRecovery = errors.New("jobs recovery error")
	// ErrConfiguration classifies missing or invalid backend settings.
	ErrConfiguration = errors.New("jobs configuration error")
	// ErrNotInitialized classifies use before Start or without a processor.
	ErrNotInitialized = errors.New("jobs not initialized")
	// ErrClosed classifies operations on a stopped backend or coordinator.
	ErrClosed = errors.New("jobs closed")
	// ErrInterrupted rejects a pending rendezvous on shutdown or migration.
	ErrInterrupted = errors.New("jobs interrupted")
	// ErrSignalTimeout is recorded when no outcome arrives within the signal timeout.
	ErrSignalTimeout = errors.New("jobs outcome signal timeout")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

func transientError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return errors.Join(jobsError(ErrTransient, op), err)
}

// IsTransient reports whether err is a backend connectivity failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
