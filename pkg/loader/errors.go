// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a source could not be loaded.
type FailureKind string

const (
	// KindUnsupported means no registered loader handles the source format.
	KindUnsupported FailureKind = "unsupported_format"

	// KindEncrypted means the source is password protected and cannot be
	// read without external decryption.
	KindEncrypted FailureKind = "encrypted"

	// KindUnreachable means the source could not be reached (file not
	// found, network failure, non-success HTTP status).
	KindUnreachable FailureKind = "unreachable"

	// KindCorrupt means the source was reached but its content could not
	// be decoded.
	KindCorrupt FailureKind = "corrupt"
)

// SourceError is the typed failure returned by loaders.
//
// Loaders never panic or leak raw library errors across the registry
// boundary; every failure is wrapped in a SourceError so callers can route
// on Kind.
type SourceError struct {
	Kind    FailureKind // Failure classification
	Locator string      // The source locator that failed
	Loader  string      // Loader name, empty when no loader matched
	Message string      // Human-readable detail
	Err     error       // Underlying error, if any
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Kind, e.Locator, e.Message)
	if e.Loader != "" {
		msg += fmt.Sprintf(" (loader: %s)", e.Loader)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new SourceError.
func NewSourceError(kind FailureKind, locator, loaderName, message string, err error) *SourceError {
	return &SourceError{
		Kind:    kind,
		Locator: locator,
		Loader:  loaderName,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the failure kind of err, or "" if err is not a SourceError.
func KindOf(err error) FailureKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsEncrypted reports whether err is an encrypted-source failure.
func IsEncrypted(err error) bool { return KindOf(err) == KindEncrypted }

// IsUnsupported reports whether err is an unsupported-format failure.
func IsUnsupported(err error) bool { return KindOf(err) == KindUnsupported }

// IsUnreachable reports whether err is an unreachable-source failure.
func IsUnreachable(err error) bool { return KindOf(err) == KindUnreachable }

// IsCorrupt reports whether err is a corrupt-source failure.
func IsCorrupt(err error) bool { return KindOf(err) == KindCorrupt }
