package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph is returned when a graph fails publish-time validation.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrInvalidParticipants is returned when a start request has an illegal role set.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrNoEligiblePath is returned when no outgoing edge of the current node is eligible.
	ErrNoEligiblePath = errors.New("no eligible path")
	// ErrStepLimitExceeded is returned when an instance exceeds its configured step budget.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrParticipantLost is returned when a referenced actor is no longer alive.
	ErrParticipantLost = errors.New("participant lost")
	// ErrDecoratorError is returned when an event or modifier decorator fails to execute.
	ErrDecoratorError = errors.New("decorator error")
	// ErrNetworkDesync is returned when an observer receives an out-of-sequence frame.
	ErrNetworkDesync = errors.New("network desync")

	// ErrInstanceNotFound is returned when an instance id is unknown or already destroyed.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInstanceEnded is returned for requests queued behind a terminal transition.
	ErrInstanceEnded = errors.New("instance ended")
	// ErrNotRunning is returned when an operation requires the Running status.
	ErrNotRunning = errors.New("instance not running")
	// ErrNotPaused is returned when resuming an instance that is not paused.
	ErrNotPaused = errors.New("instance not paused")
	// ErrInvalidChoice is returned when an external choice matches no eligible edge.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrRegistryFrozen is returned when registering into a frozen decorator registry.
	ErrRegistryFrozen = errors.New("decorator registry frozen")
	// ErrSnapshotNotFound is returned when a snapshot id cannot be found in the store.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrGraphNotFound is returned when a graph id or version is not published.
	ErrGraphNotFound = errors.New("graph not found")
)

// ReasonCode is the machine-readable cause attached to pause and abort events.
type ReasonCode string

const (
	ReasonInvalidGraph        ReasonCode = "InvalidGraph"
	ReasonInvalidParticipants ReasonCode = "InvalidParticipants"
	ReasonNoEligiblePath      ReasonCode = "NoEligiblePath"
	ReasonStepLimitExceeded   ReasonCode = "StepLimitExceeded"
	ReasonParticipantLost     ReasonCode = "ParticipantLost"
	ReasonDecoratorError      ReasonCode = "DecoratorError"
	ReasonNetworkDesync       ReasonCode = "NetworkDesync"
	ReasonAwaitingChoice      ReasonCode = "AwaitingChoice"
	ReasonExternalPause       ReasonCode = "ExternalPause"
	ReasonCancelled           ReasonCode = "Cancelled"
)

var reasonErrors = map[ReasonCode]error{
	ReasonInvalidGraph:        ErrInvalidGraph,
	ReasonInvalidParticipants: ErrInvalidParticipants,
	ReasonNoEligiblePath:      ErrNoEligiblePath,
	ReasonStepLimitExceeded:   ErrStepLimitExceeded,
	ReasonParticipantLost:     ErrParticipantLost,
	ReasonDecoratorError:      ErrDecoratorError,
	ReasonNetworkDesync:       ErrNetworkDesync,
}

// Err returns the sentinel error associated with the reason, if any.
func (r ReasonCode) Err() error {
	return reasonErrors[r]
}

// InstanceError reports a failure of a dialogue instance together with its reason code.
type InstanceError struct {
	InstanceID  string
	Reason      ReasonCode
	DecoratorID string
	Err         error
}

func (e *InstanceError) Error() string {
	msg := fmt.Sprintf("instance %s: %s", e.InstanceID, e.Reason)
	if e.DecoratorID != "" {
		msg += fmt.Sprintf(" (decorator %s)", e.DecoratorID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel for the reason and the underlying cause.
func (e *InstanceError) Unwrap() []error {
	var errs []error
	if sentinel := e.Reason.Err(); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ReasonOf extracts the reason code from err, or "" if err carries none.
func ReasonOf(err error) ReasonCode {
	var ie *InstanceError
	if errors.As(err, &ie) {
		return ie.Reason
	}
	for code, sentinel := range reasonErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}
