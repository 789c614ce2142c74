package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the sync service.

// ErrNotFound indicates a user, tenant or row was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrMisconfigured indicates a tenant lacks the credentials an operation needs.
type ErrMisconfigured struct {
	Site   string
	Reason string
}

func (e *ErrMisconfigured) Error() string {
	return fmt.Sprintf("site %s misconfigured: %s", e.Site, e.Reason)
}

// ErrTableNotFound is the "relation does not exist" class of remote error.
// Callers probing candidate tables treat it as "not applicable".
type ErrTableNotFound struct {
	Table string
}

func (e *ErrTableNotFound) Error() string {
	return fmt.Sprintf("table does not exist: %s", e.Table)
}

// ErrRemoteRead indicates the tenant store rejected a read.
type ErrRemoteRead struct {
	Site  string
	Table string
	Err   error
}

func (e *ErrRemoteRead) Error() string {
	return fmt.Sprintf("read %s on %s failed: %v", e.Table, e.Site, e.Err)
}

func (e *ErrRemoteRead) Unwrap() error {
	return e.Err
}

// ErrRemoteWrite indicates the tenant store rejected a write. The wrapped
// error carries the tenant's raw error text.
type ErrRemoteWrite struct {
	Site  string
	Table string
	Err   error
}

func (e *ErrRemoteWrite) Error() string {
	return fmt.Sprintf("write %s on %s failed: %v", e.Table, e.Site, e.Err)
}

func (e *ErrRemoteWrite) Unwrap() error {
	return e.Err
}

// ErrNoValidColumns indicates a patch mapped onto none of the table's columns.
type ErrNoValidColumns struct {
	Table     string
	Available []string
}

func (e *ErrNoValidColumns) Error() string {
	return fmt.Sprintf("no valid columns to update in %s (available: %s)", e.Table, strings.Join(e.Available, ", "))
}

// ErrNoUserTables is the NotFound-class outcome of an aggregated read where
// none of the candidate tables exist.
type ErrNoUserTables struct {
	Site    string
	Checked []string
}

func (e *ErrNoUserTables) Error() string {
	return fmt.Sprintf("no user tables found on %s (checked: %s)", e.Site, strings.Join(e.Checked, ", "))
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker for a tenant is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates a missing or invalid admin token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
