// Copyright 2026 The GridPanel Authors
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

package authz

import (
	"errors"
	"net/http"
)

// Denial reasons carried by ForbiddenError.
const (
	ReasonUnauthorized            = "unauthorized"
	ReasonInsufficientPermissions = "insufficient-permissions"
)

var (
	// ErrUnauthorized means no valid session accompanied the request.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden matches every *ForbiddenError via errors.Is.
	ErrForbidden = errors.New("forbidden")
)

// ForbiddenError is returned when an authenticated identity lacks the role a
// route requires.
type ForbiddenError struct {
	Reason string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// Is reports whether target is ErrForbidden.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// HTTPStatus returns the status code a transport should use for err.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
