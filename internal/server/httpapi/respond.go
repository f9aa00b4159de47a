package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Class string `json:"class,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrReadOnly):
		return http.StatusServiceUnavailable
	}
	if errs.KindOf(err) != errs.Validation {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, errs.ErrAlreadyExists), errors.Is(err, errs.ErrAlreadyMember),
		errors.Is(err, errs.ErrExchangeInFlight):
		return http.StatusConflict
	case errors.Is(err, errs.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusBadRequest
}

// writeError answers with the error body. Infra and crypto failures are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code := statusOf(err)
	body := errorBody{Error: errs.Message(err)}
	switch code {
	case http.StatusUnauthorized:
		body.Error = "unauthorized"
	case http.StatusServiceUnavailable:
		body.Error = errs.ErrReadOnly.Error()
		body.Kind = errs.Integrity.String()
	case http.StatusInternalServerError:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", errs.KindOf(err).String()),
			zap.Error(err),
		)
		body.Error = "internal error"
	default:
		body.Kind = errs.Validation.String()
		var se *validation.ScreenError
		if errors.As(err, &se) {
			body.Class = se.Class
		}
	}
	writeJSON(w, code, body)
}

// decodeJSON reads one JSON object into v.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var ute *json.UnmarshalTypeError
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &ute):
			return errs.Invalid(nil, "%s must be a %s", ute.Field, ute.Type)
		case errors.As(err, &mbe):
			return errs.Invalid(errs.ErrTooLong, "request body too large")
		case errors.Is(err, io.EOF):
			return errs.Invalid(errs.ErrMissingField, "request body is required")
		}
		return errs.Invalid(nil, "malformed JSON body")
	}
	return nil
}

func okBody(extra map[string]any) map[string]any {
	out := map[string]any{"ok": true}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func invalidID(name string) error {
	return errs.Invalid(nil, "%s is not a valid id", name)
}
