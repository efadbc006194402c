/*
Copyright © 2025 the Floracast authors.
This file is part of Floracast.

Floracast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Floracast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Floracast.  If not, see <http://www.gnu.org/licenses/>.*/

package recommend

import "fmt"

// ErrorKind is the machine tag on a structured recommendation failure.
type ErrorKind string

const (
	// KindInputInvalid marks malformed or conflicting request parameters.
	KindInputInvalid ErrorKind = "input_invalid"
	// KindLocationUnresolved marks coordinates or codes that map to no
	// region.
	KindLocationUnresolved ErrorKind = "location_unresolved"
	// KindClimateUnavailable marks a resolved location for which no
	// bio-vector could be obtained even via the regional fallback.
	KindClimateUnavailable ErrorKind = "climate_unavailable"
	// KindNoCandidates marks a request whose filters and threshold left
	// zero candidates.
	KindNoCandidates ErrorKind = "no_candidates"
	// KindStoreUnavailable marks a transient infrastructure failure.
	KindStoreUnavailable ErrorKind = "store_unavailable"
	// KindDeadlineExceeded marks a request that ran past its deadline.
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
)

// Error is the single structured failure shape returned to API clients.
type Error struct {
	Kind      ErrorKind `json:"error"`
	Message   string    `json:"message"`
	Hint      string    `json:"hint,omitempty"`
	Retriable bool      `json:"retriable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("recommend: %s: %s", e.Kind, e.Message)
}

func errInvalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInputInvalid, Message: fmt.Sprintf(format, args...)}
}

func errUnresolved(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLocationUnresolved, Message: fmt.Sprintf(format, args...)}
}

func errStore(err error) *Error {
	return &Error{
		Kind:      KindStoreUnavailable,
		Message:   err.Error(),
		Retriable: true,
	}
}
