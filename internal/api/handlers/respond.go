package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/engramhq/engram/internal/domain"
)

// statusClientClosed is the de-facto code for a request whose client went
// away before commit; net/http has no constant for it.
const statusClientClosed = 499

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Anything that is
// not a classified error goes out as a 500 without leaking its message.
func writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		derr = domain.NewError(domain.KindInternal, "internal error")
	}
	writeJSON(w, statusFor(derr.Kind), errorEnvelope{Error: errorBody{
		Kind:    derr.Kind,
		Message: derr.Message,
		Details: derr.Details,
	}})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindEmptyContent, domain.KindInvalidField:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindSecretDetected:
		return http.StatusUnprocessableEntity
	case domain.KindEmbedderUnavailable, domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON parses a request body strictly: unknown fields are rejected so
// a typo'd option never silently no-ops. An empty body decodes into the
// zero value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Errorf(domain.KindInvalidField, "invalid request body: %v", err)
	}
	return nil
}
