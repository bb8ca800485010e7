package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/relay-run/relay/internal/auth"
	"github.com/relay-run/relay/internal/db"
	"github.com/relay-run/relay/internal/tasks"
	"github.com/relay-run/relay/internal/triggers"
)

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps the service error taxonomy onto HTTP codes. Unknown
// errors become opaque 500s; the cause is logged, never leaked.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *triggers.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorMsg(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, db.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrMissingContext):
		writeErrorMsg(w, http.StatusBadRequest, "workspace context missing")
	case errors.Is(err, tasks.ErrTaskTerminal):
		writeErrorMsg(w, http.StatusBadRequest, "task is in a terminal state")
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return &triggers.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

// pathUUID parses a mux path variable as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return pathParseUUID(mux.Vars(r)[name], name)
}

func pathParseUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &triggers.ValidationError{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}
