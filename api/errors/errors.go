package errors

import (
	"net/http"

	"github.com/pkg/errors"

	er "github.com/credstack/credstack/internal/errors"
)

// StatusFor maps a service error to the HTTP status the REST surface
// returns for it. Unknown errors stay internal.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, er.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, er.ErrNotOwner), errors.Is(err, er.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, er.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, er.ErrSelfGrant):
		return http.StatusBadRequest
	case errors.Is(err, er.ErrLinkInactive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MessageFor hides internal detail for 5xx responses.
func MessageFor(err error) string {
	if StatusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
