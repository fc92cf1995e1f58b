package config

import (
	"errors"
	"fmt"
)

// Sentinel error for a mapping that is not present in the store
var ErrConfigNotFound = errors.New("mapping not found")

// ErrConfigLoad matches every ConfigLoadError.
var ErrConfigLoad = errors.New("config load failed")

// ErrMalformedEntry matches every MalformedEntryError.
var ErrMalformedEntry = errors.New("malformed mapping entry")

// ConfigLoadError reports a mapping source that could not be read or parsed at all.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load config file %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

func (e *ConfigLoadError) Is(target error) bool { return target == ErrConfigLoad }

// MalformedEntryError reports a single mapping entry that was skipped.
type MalformedEntryError struct {
	Key    string
	Value  string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("invalid mapping for port %s (%q): %s", e.Key, e.Value, e.Reason)
}

func (e *MalformedEntryError) Is(target error) bool { return target == ErrMalformedEntry }
