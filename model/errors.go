package model

import "errors"

// Error taxonomy shared by the inventory, allocator, renderer and service
// controller. Callers wrap these with context and match with errors.Is.
var (
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation error")
	// ErrAlreadyExists indicates a named entity already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound indicates a named entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrResourceConflict indicates a wavelength slot or port is already in use.
	ErrResourceConflict = errors.New("resource conflict")
	// ErrNoWavelengthAvailable indicates no common free wavelength exists along a path.
	ErrNoWavelengthAvailable = errors.New("no wavelength available")
	// ErrNoPathFound indicates the topology does not connect the endpoints.
	ErrNoPathFound = errors.New("no path found")
	// ErrDeviceCommunication indicates a device call timed out or the device was unreachable.
	ErrDeviceCommunication = errors.New("device communication failure")
	// ErrMappingIncomplete indicates a device port lacks the metadata needed for port mapping.
	ErrMappingIncomplete = errors.New("port mapping incomplete")
	// ErrInvariantViolation indicates internal bookkeeping would become inconsistent.
	ErrInvariantViolation = errors.New("invariant violation")
)
