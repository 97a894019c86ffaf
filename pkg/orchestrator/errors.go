package orchestrator

import (
	"fmt"

	"mercator-hq/conduit/pkg/providers"
)

// Error is an orchestrator-level failure with a fixed error class.
type Error struct {
	msg   string
	class providers.ErrorClass
}

func (e *Error) Error() string { return e.msg }

// ErrorClass implements providers.Classifier.
func (e *Error) ErrorClass() providers.ErrorClass { return e.class }

var (
	// ErrNoProvider is returned when no provider is active.
	ErrNoProvider = &Error{msg: "no provider selected", class: providers.ClassConfiguration}

	// ErrProviderNotReady is returned when the active provider has not been
	// initialized.
	ErrProviderNotReady = &Error{msg: "provider is not initialized", class: providers.ClassConfiguration}

	// ErrQueryInFlight is returned when a query is already running.
	ErrQueryInFlight = &Error{msg: "a query is already in progress", class: providers.ClassOther}

	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = &Error{msg: "query cannot be empty", class: providers.ClassConfiguration}
)

// ResourceError is returned when the resource guard refuses new work.
type ResourceError struct {
	Resource string
	Used     uint64
	Limit    uint64
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("insufficient resources: %s at %d MB exceeds the %d MB limit",
		e.Resource, e.Used>>20, e.Limit>>20)
}

// ErrorClass implements providers.Classifier.
func (e *ResourceError) ErrorClass() providers.ErrorClass { return providers.ClassOther }

var (
	_ providers.Classifier = (*Error)(nil)
	_ providers.Classifier = (*ResourceError)(nil)
)
