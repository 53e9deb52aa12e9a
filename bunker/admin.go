package bunker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
	"github.com/dsbaars/bunker46/store"
)

// AdminAPI is the local operator surface: pairing-URI issuance and
// intake, connection management and engine status. It is meant to be
// mounted on the ops server, which binds to a trusted interface.
type AdminAPI struct {
	logger  logging.Logger
	service *Service
}

func NewAdminAPI(logger logging.Logger, service *Service) *AdminAPI {
	return &AdminAPI{
		logger:  logging.ForComponent(logger, logging.ComponentAdminAPI),
		service: service,
	}
}

// Register mounts the API routes on mux under /api/.
func (a *AdminAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/uri/issue", a.handleIssueURI)
	mux.HandleFunc("/api/uri/connect", a.handleConnectURI)
	mux.HandleFunc("/api/connections", a.handleConnections)
	mux.HandleFunc("/api/connections/", a.handleConnection)
}

func (a *AdminAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.service.Status())
}

type issueURIRequest struct {
	KeyID string `json:"key_id"`
	Name  string `json:"name,omitempty"`
}

type issueURIResponse struct {
	URI    string `json:"uri"`
	Secret string `json:"secret"`
}

func (a *AdminAPI) handleIssueURI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req issueURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.KeyID == "" {
		writeError(w, http.StatusBadRequest, "key_id is required")
		return
	}
	uri, secret, err := a.service.IssueBunkerURI(r.Context(), req.KeyID, req.Name)
	if err != nil {
		a.logger.Error().Err(err).Str("key_id", req.KeyID).Msg("failed to issue pairing URI")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issueURIResponse{URI: uri, Secret: secret})
}

type connectURIRequest struct {
	KeyID string `json:"key_id"`
	URI   string `json:"uri"`
}

func (a *AdminAPI) handleConnectURI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req connectURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.KeyID == "" || req.URI == "" {
		writeError(w, http.StatusBadRequest, "key_id and uri are required")
		return
	}
	conn, err := a.service.ConnectFromURI(r.Context(), req.KeyID, req.URI)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, nip46.ErrInvalidURI):
			status = http.StatusBadRequest
		case errors.Is(err, store.ErrConnectionExists):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (a *AdminAPI) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	conns, err := a.service.Connections().ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

// handleConnection serves /api/connections/<id> and its subresources:
//
//	GET    /api/connections/<id>        connection record
//	GET    /api/connections/<id>/audit  recent audit entries
//	POST   /api/connections/<id>/revoke revoke the connection
//	DELETE /api/connections/<id>        delete the connection
func (a *AdminAPI) handleConnection(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "connection id is required")
		return
	}

	ctx := r.Context()
	switch {
	case sub == "" && r.Method == http.MethodGet:
		conn, err := a.service.Connections().Get(ctx, id)
		if err != nil {
			writeConnError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)

	case sub == "" && r.Method == http.MethodDelete:
		if err := a.service.Connections().Delete(ctx, id); err != nil {
			writeConnError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "audit" && r.Method == http.MethodGet:
		entries, err := a.service.Audit().Recent(ctx, id, 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)

	case sub == "revoke" && r.Method == http.MethodPost:
		if err := a.service.Connections().UpdateStatus(ctx, id, store.StatusRevoked); err != nil {
			writeConnError(w, err)
			return
		}
		a.logger.Info().Str(logging.FieldConnectionID, id).Msg("connection revoked")
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

func writeConnError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrConnectionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
