package control

import (
	"encoding/json"
	"net/http"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"

	"github.com/gorilla/mux"
)

const (
	mimeJson = "application/json"

	apiPrefix = "/api/servers"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string           `json:"error"`
	Type  errors.ErrorType `json:"type"`
}

// BackupResponse carries the path of a created archive
type BackupResponse struct {
	Path string `json:"path"`
}

// CommandRequest is a console line sent over REST or the console websocket
type CommandRequest struct {
	Type string `json:"type,omitempty"`
	Data string `json:"data"`
}

type okResponse struct {
	Status string `json:"status"`
}

var ok = okResponse{Status: "ok"}

type HandlerOptions struct {
	// StaticDirectory is served for every path outside the API when set
	StaticDirectory string
	// OriginPatterns restricts websocket origins; empty allows any origin
	OriginPatterns []string
}

// HTTPHandler serves the agent operation set as a REST API with console
// and metrics websockets.
type HTTPHandler struct {
	handler domain.Contract
	streams domain.Streams
	options HandlerOptions
	logger  logging.Logger
	r       *mux.Router
}

func NewHTTPHandler(handler domain.Contract, streams domain.Streams, options HandlerOptions, logger logging.Logger) *HTTPHandler {
	r := mux.NewRouter()
	h := &HTTPHandler{
		handler: handler,
		streams: streams,
		options: options,
		logger:  logger,
		r:       r,
	}

	r.HandleFunc(apiPrefix, h.listServers).Methods("GET")
	r.HandleFunc(apiPrefix, h.createServer).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}", h.updateServer).Methods("PUT")
	r.HandleFunc(apiPrefix+"/{id}", h.deleteServer).Methods("DELETE")
	r.HandleFunc(apiPrefix+"/{id}/start", h.startServer).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}/stop", h.stopServer).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}/restart", h.restartServer).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}/backup", h.backupServer).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}/command", h.sendCommand).Methods("POST")
	r.HandleFunc(apiPrefix+"/{id}/console/ws", h.consoleStream).Methods("GET")
	r.HandleFunc(apiPrefix+"/{id}/metrics/ws", h.metricsStream).Methods("GET")

	if options.StaticDirectory != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(options.StaticDirectory)))
	}

	return h
}

// ServeHTTP applies permissive CORS headers and answers preflight requests
// before routing.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "*")
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.r.ServeHTTP(w, req)
}

// StatusCode maps a domain error to the response status of the API
func StatusCode(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeJson(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, op string, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		h.logger.Errorf("%s server handler: %v", op, err)
	} else {
		h.logger.Debugf("%s server handler rejected: %v", op, err)
	}
	h.writeJson(w, code, ErrorResponse{Error: err.Error(), Type: errors.TypeOf(err)})
}

func (h *HTTPHandler) readDefinition(r *http.Request) (config.ServerDefinition, error) {
	var def config.ServerDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		return def, errors.NewValidationError("invalid server definition body", err)
	}
	return def, nil
}

func (h *HTTPHandler) listServers(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.handler.List(r.Context())
	if err != nil {
		h.writeError(w, "List", err)
		return
	}
	h.writeJson(w, http.StatusOK, statuses)
}

func (h *HTTPHandler) createServer(w http.ResponseWriter, r *http.Request) {
	def, err := h.readDefinition(r)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}
	status, err := h.handler.Create(r.Context(), def)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}
	h.writeJson(w, http.StatusCreated, status)
}

func (h *HTTPHandler) updateServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := h.readDefinition(r)
	if err != nil {
		h.writeError(w, "Update", err)
		return
	}
	status, err := h.handler.Update(r.Context(), id, def)
	if err != nil {
		h.writeError(w, "Update", err)
		return
	}
	h.writeJson(w, http.StatusOK, status)
}

func (h *HTTPHandler) deleteServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.handler.Delete(r.Context(), id); err != nil {
		h.writeError(w, "Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) startServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.handler.Start(r.Context(), id); err != nil {
		h.writeError(w, "Start", err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}

func (h *HTTPHandler) stopServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.handler.Stop(r.Context(), id); err != nil {
		h.writeError(w, "Stop", err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}

func (h *HTTPHandler) restartServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.handler.Restart(r.Context(), id); err != nil {
		h.writeError(w, "Restart", err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}

func (h *HTTPHandler) backupServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	path, err := h.handler.Backup(r.Context(), id)
	if err != nil {
		h.writeError(w, "Backup", err)
		return
	}
	h.writeJson(w, http.StatusOK, BackupResponse{Path: path})
}

func (h *HTTPHandler) sendCommand(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var cmd CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, "Command", errors.NewValidationError("invalid command body", err))
		return
	}
	if err := h.handler.SendCommand(r.Context(), id, cmd.Data); err != nil {
		h.writeError(w, "Command", err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}
