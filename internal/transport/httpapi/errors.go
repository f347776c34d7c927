package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const msgTaskNotFound = "Task not found"

// badRequest is a malformed body; it maps to 400 like a validation error.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return &badRequest{msg: fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit)}
		case errors.Is(err, io.EOF):
			return &badRequest{msg: "request body is empty"}
		default:
			return &badRequest{msg: "invalid JSON body: " + err.Error()}
		}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &badRequest{msg: "invalid JSON body: trailing data"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps an error to its HTTP status and client message.
func statusOf(err error) (int, string) {
	var (
		ve *lifecycle.ValidationError
		br *badRequest
		ae *auth.Error
		ce *lifecycle.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		if len(ve.Invalid) > 0 {
			return http.StatusBadRequest, ve.Msg
		}
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &br):
		return http.StatusBadRequest, br.msg
	case errors.As(err, &ae) && errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ae.Detail
	case errors.As(err, &ae):
		return http.StatusUnauthorized, ae.Detail
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound, msgTaskNotFound
	case errors.As(err, &ce):
		return http.StatusConflict, ce.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusOf(err)
	switch {
	case code == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case code >= 500:
		a.log.Error("request failed",
			logx.String("request_id", RequestIDFrom(r.Context())),
			logx.String("path", r.URL.Path),
			logx.Err(err),
		)
	}
	writeError(w, code, msg)
}
