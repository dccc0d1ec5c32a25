package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags an error with the part of the lifecycle that produced it, so
// callers can tell expected, locally recovered conditions apart from fatal
// ones without matching on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindLaunch covers spawn, image pull and port-bind failures.
	KindLaunch
	// KindCrash is an unexpected exit or a liveness failure.
	KindCrash
	// KindProbe is a probe attempt that failed below its threshold.
	KindProbe
	// KindStopTimeout means a graceful stop escalated to a forced kill.
	KindStopTimeout
	// KindConsistency marks broken registry or state machine invariants.
	KindConsistency
	// KindConfig is an invalid application or tool configuration.
	KindConfig
	// KindCycle is a nested application include cycle.
	KindCycle
	// KindCommand wraps a failed orchestrator operation.
	KindCommand
)

func (k ErrorKind) String() string {
	switch k {
	case KindLaunch:
		return "Launch"
	case KindCrash:
		return "Crash"
	case KindProbe:
		return "Probe"
	case KindStopTimeout:
		return "StopTimeout"
	case KindConsistency:
		return "Consistency"
	case KindConfig:
		return "Config"
	case KindCycle:
		return "Cycle"
	case KindCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this kind abort the operation that raised
// them. Crashes, probe failures and stop timeouts are handled where they occur.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindCrash, KindProbe, KindStopTimeout:
		return false
	default:
		return true
	}
}

// Error is the tagged error used across the orchestration engine.
type Error struct {
	Kind    ErrorKind
	Op      string
	Service string
	Replica string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	subject := e.Replica
	if subject == "" {
		subject = e.Service
	}
	if subject != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(subject)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return strings.ToLower(e.Kind.String()) + " error"
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any tagged error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// NewLaunchError reports a replica that could not be started.
func NewLaunchError(service, replica string, err error) error {
	return &Error{Kind: KindLaunch, Op: "launch", Service: service, Replica: replica, Err: err}
}

// NewCrashError reports a replica that exited or failed liveness.
func NewCrashError(service, replica string, err error) error {
	return &Error{Kind: KindCrash, Op: "crash", Service: service, Replica: replica, Err: err}
}

// NewStopTimeoutError reports a replica that had to be force killed.
func NewStopTimeoutError(service, replica string, err error) error {
	return &Error{Kind: KindStopTimeout, Op: "stop", Service: service, Replica: replica, Err: err}
}

// NewDuplicateReplicaError reports a second registration of the same replica name.
func NewDuplicateReplicaError(service, replica string) error {
	return &Error{
		Kind:    KindConsistency,
		Op:      "register",
		Service: service,
		Replica: replica,
		Err:     ErrDuplicateReplica,
	}
}

// NewTransitionError reports an illegal state machine transition.
func NewTransitionError(replica string, from, to ReplicaState) error {
	return &Error{
		Kind:    KindConsistency,
		Op:      "transition",
		Replica: replica,
		Err:     fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to),
	}
}

// NewCycleError reports an include chain that loops back on itself.
func NewCycleError(chain []string) error {
	return &Error{
		Kind: KindCycle,
		Op:   "include",
		Err:  fmt.Errorf("nested application cycle: %s", strings.Join(chain, " -> ")),
	}
}

// NewCommandError wraps the failure of a top-level orchestrator operation.
func NewCommandError(op string, err error) error {
	return &Error{Kind: KindCommand, Op: op, Err: err}
}

// NotFoundError represents a resource not found error with contextual information.
type NotFoundError struct {
	// ResourceType categorizes the resource, e.g. "service" or "replica".
	ResourceType string

	// ResourceName is the identifier that was looked up.
	ResourceName string

	// Message overrides the default message when set.
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

var (
	NewServiceNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("service", name)
	}

	NewReplicaNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("replica", name)
	}
)

var (
	ErrDuplicateReplica  = errors.New("replica already registered")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotRunning        = errors.New("orchestrator is not running")
	ErrAlreadyStarted    = errors.New("orchestrator already started")
)
