package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// maxBodyBytes bounds request bodies; configurations are the largest payload.
const maxBodyBytes = 4 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// errBadRequest marks decode and validation failures.
var errBadRequest = errors.New("bad request")

// decodeRequest reads a JSON body into T and validates its struct tags.
func decodeRequest[T any](r *http.Request) (T, error) {
	var req T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: invalid JSON request body: %v", errBadRequest, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %s", errBadRequest, validationMessage(err))
	}
	return req, nil
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownReference):
		return http.StatusNotFound
	case domain.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// their details withheld.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
