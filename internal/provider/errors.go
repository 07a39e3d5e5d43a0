package provider

import "errors"

var (
	// ErrProviderNotFound is returned when a provider cannot be found by name
	ErrProviderNotFound = errors.New("provider not found")
	// ErrProviderDisabled is returned when running a provider that is switched off
	ErrProviderDisabled = errors.New("provider is disabled")
)
