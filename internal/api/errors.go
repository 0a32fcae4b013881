package api

import (
	"errors"
	"net/http"

	"github.com/surya-moorthy/escrow-reward-system/internal/ledger"
)

type httpError struct {
	cause  error
	status int
	kind   string
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

func badRequest(cause error) error {
	return &httpError{cause: cause, status: http.StatusBadRequest, kind: "BadRequest"}
}

// statusOf maps a ledger error kind to an HTTP status.
func statusOf(kind ledger.Kind) int {
	switch kind {
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindUnsupportedToken, ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindAlreadyInitialized, ledger.KindAssetAlreadySupported:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		writeJSON(w, he.status, errorBody{Error: he.kind, Message: he.cause.Error()})
		return
	}
	if kind, ok := ledger.KindOf(err); ok {
		writeJSON(w, statusOf(kind), errorBody{Error: string(kind), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Message: err.Error()})
}
