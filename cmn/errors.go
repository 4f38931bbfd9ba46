// Package cmn provides the error taxonomy, descriptor-source kinds,
// and flat typed configuration accessor shared by every CollecTor
// package -- the analogue of aistore's `cmn` package, trimmed to
// what a single-process collection daemon needs.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors shared across the error taxonomy. Callers compare
// with errors.Is; wrapping (via pkgerrors.Wrap) preserves them through
// module boundaries while attaching call-site context to log lines.
var (
	// ErrAlreadyPresent is not a failure: the archive already had the
	// file, so the writer silently no-ops.
	ErrAlreadyPresent = errors.New("already present")
	// ErrMissingTimestamp / ErrMissingDigest are raised by the path
	// calculator when a required facet is absent; the caller skips
	// the descriptor.
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrMissingDigest    = errors.New("missing digest")
	// ErrSecretsCorrupt disables scrubbing for the current module run
	// only; it never aborts the process.
	ErrSecretsCorrupt = errors.New("secrets store corrupt")
	// ErrNotFound is returned by the HTTP fetcher for any non-200
	// response.
	ErrNotFound = errors.New("not found")
	// ErrShutdownRequested propagates cancellation through the
	// scheduler's worker pool.
	ErrShutdownRequested = errors.New("shutdown requested")
)

// ConfigError is fatal at startup; Field names the offending key so
// the operator doesn't have to re-derive it from a generic parse
// error.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// ParseError wraps a per-descriptor parse failure; the caller logs it
// once per file and skips the offending descriptor.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

// Wrap annotates err with a call-site message while keeping it
// unwrappable to the original sentinel, mirroring how the `ais`
// package wraps I/O failures before logging them.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}
