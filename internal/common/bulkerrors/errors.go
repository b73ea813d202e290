// Package bulkerrors contains the error types returned by the bulk change engine.
// Callers should not compare errors directly; use Classify (or errors.As) to find out which class of
// failure occurred, since errors are usually wrapped on their way up.
//
// Validation and permission errors are raised before any work is submitted and block progression
// through the wizard. Per-entity errors are collected while a task runs and never abort it.
// Fatal task errors end the task early and are reported to users as a single opaque message.
package bulkerrors

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Class is the coarse category of an error, used to decide how the failure is surfaced.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassPermission
	ClassEntity
	ClassFatal
	ClassState
	ClassNotFound
	ClassAlreadyExists
	ClassInvalidArgument
	ClassUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassPermission:
		return "permission"
	case ClassEntity:
		return "entity"
	case ClassFatal:
		return "fatal"
	case ClassState:
		return "state"
	case ClassNotFound:
		return "not-found"
	case ClassAlreadyExists:
		return "already-exists"
	case ClassInvalidArgument:
		return "invalid-argument"
	case ClassUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// ErrValidation is a field-scoped error that blocks the wizard from progressing.
// Messages are keyed by field id; errors that do not belong to a field use the empty key.
type ErrValidation struct {
	Messages map[string][]string
}

func NewValidationError(field string, format string, args ...interface{}) *ErrValidation {
	err := &ErrValidation{}
	err.Add(field, format, args...)
	return err
}

func (err *ErrValidation) Add(field string, format string, args ...interface{}) {
	if err.Messages == nil {
		err.Messages = map[string][]string{}
	}
	err.Messages[field] = append(err.Messages[field], fmt.Sprintf(format, args...))
}

func (err *ErrValidation) Merge(other *ErrValidation) {
	if other == nil {
		return
	}
	for field, messages := range other.Messages {
		for _, m := range messages {
			err.Add(field, "%s", m)
		}
	}
}

func (err *ErrValidation) HasErrors() bool {
	return err != nil && len(err.Messages) > 0
}

// ErrorOrNil returns nil if no messages were added, so that an *ErrValidation can be accumulated and
// returned without producing a typed nil error.
func (err *ErrValidation) ErrorOrNil() error {
	if !err.HasErrors() {
		return nil
	}
	return err
}

func (err *ErrValidation) Fields() []string {
	fields := make([]string, 0, len(err.Messages))
	for f := range err.Messages {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (err *ErrValidation) Error() string {
	parts := make([]string, 0, len(err.Messages))
	for _, field := range err.Fields() {
		msg := strings.Join(err.Messages[field], ", ")
		if field == "" {
			parts = append(parts, msg)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ErrNoPermission represents an error that occurs when a user tries to perform some action
// for which they do not have permissions.
// AffectedCount is the number of entities the action was attempted on, and is included in the
// summary shown to users.
type ErrNoPermission struct {
	// Principal that attempted the action
	Principal string
	// The missing permission
	Permission string
	// The attempted action
	Action string
	// Number of selected entities the action would have been applied to
	AffectedCount int
	// Optional message included with the error message
	Message string
}

func (err *ErrNoPermission) Error() (s string) {
	if err.Action != "" {
		s = fmt.Sprintf("%s lacks permission %s required for action %s", err.Principal, err.Permission, err.Action)
	} else {
		s = fmt.Sprintf("%s lacks permission %s", err.Principal, err.Permission)
	}
	if err.AffectedCount > 0 {
		s = s + fmt.Sprintf(" on %d selected issue(s)", err.AffectedCount)
	}
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrEntity is an error that occurred while mutating a single entity.
type ErrEntity struct {
	Entity string
	Cause  error
}

func (err *ErrEntity) Error() string {
	return fmt.Sprintf("%s: %s", err.Entity, err.Cause)
}

func (err *ErrEntity) Unwrap() error {
	return err.Cause
}

// ErrFatalTask is an unexpected failure that terminated a task.
// Message is safe to show to users; Cause carries the detail and is only logged.
type ErrFatalTask struct {
	TaskId  string
	Message string
	Cause   error
}

func (err *ErrFatalTask) Error() string {
	return err.Message
}

func (err *ErrFatalTask) Unwrap() error {
	return err.Cause
}

// ErrState indicates the wizard was asked to do something its current state does not allow,
// e.g. jumping to a step that was never reached. Callers restart the wizard.
type ErrState struct {
	Step    int
	Message string
}

func (err *ErrState) Error() string {
	if err.Step != 0 {
		return fmt.Sprintf("invalid wizard state at step %d: %s", err.Step, err.Message)
	}
	return fmt.Sprintf("invalid wizard state: %s", err.Message)
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "task" or "issue"
	Value   string // Resource name, e.g., "01gk..."
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "maxIssues"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrUnavailable is returned when a resource is temporarily unable to accept work.
type ErrUnavailable struct {
	Message string
}

func (err *ErrUnavailable) Error() string {
	return "unavailable: " + err.Message
}

// Classify maps an error to its Class.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrValidation
		if errors.As(err, &e) {
			return ClassValidation
		}
	}
	{
		var e *ErrNoPermission
		if errors.As(err, &e) {
			return ClassPermission
		}
	}
	{
		var e *ErrState
		if errors.As(err, &e) {
			return ClassState
		}
	}
	{
		var e *ErrFatalTask
		if errors.As(err, &e) {
			return ClassFatal
		}
	}
	{
		var e *ErrEntity
		if errors.As(err, &e) {
			return ClassEntity
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return ClassNotFound
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return ClassAlreadyExists
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return ClassInvalidArgument
		}
	}
	{
		var e *ErrUnavailable
		if errors.As(err, &e) {
			return ClassUnavailable
		}
	}
	return ClassUnknown
}

// HttpStatusFromError maps error classes to http status codes.
func HttpStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch Classify(err) {
	case ClassValidation, ClassInvalidArgument:
		return http.StatusBadRequest
	case ClassPermission:
		return http.StatusForbidden
	case ClassNotFound:
		return http.StatusNotFound
	case ClassAlreadyExists, ClassState:
		return http.StatusConflict
	case ClassUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
