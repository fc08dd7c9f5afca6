package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/search"
)

var log = logging.Logger("api")

// errNotFound marks routes whose entity does not exist.
var errNotFound = errors.New("api: not found")

// Server exposes the download and search registries over HTTP.
type Server struct {
	Downloads *download.Registry
	Searches  *search.Registry

	// Harvests runs search harvesting jobs and Harvester performs them.
	Harvests  search.Submitter
	Harvester search.Harvester
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/status", s.status).Methods(http.MethodGet)

	r.HandleFunc("/datasets", s.listDatasets).Methods(http.MethodGet)
	r.HandleFunc("/datasets", s.enqueueDataset).Methods(http.MethodPost)
	r.HandleFunc("/datasets/{id}", s.getDataset).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{id}", s.removeDataset).Methods(http.MethodDelete)
	r.HandleFunc("/datasets/{id}/start", s.startDataset).Methods(http.MethodPost)
	r.HandleFunc("/datasets/{id}/pause", s.pauseDataset).Methods(http.MethodPost)
	r.HandleFunc("/datasets/{id}/selection", s.selectFiles).Methods(http.MethodPut)
	r.HandleFunc("/datasets/{id}/priority", s.setPriority).Methods(http.MethodPut)
	r.HandleFunc("/datasets/{id}/files/{file}/replica", s.pinReplica).Methods(http.MethodPut)
	r.HandleFunc("/datasets/{id}/files/{file}/{action:start|pause|reset|skip|retry}", s.fileAction).Methods(http.MethodPost)

	r.HandleFunc("/searches", s.listSearches).Methods(http.MethodGet)
	r.HandleFunc("/searches", s.createSearch).Methods(http.MethodPost)
	r.HandleFunc("/searches/{id}", s.getSearch).Methods(http.MethodGet)
	r.HandleFunc("/searches/{id}/{action:pause|resume|apply}", s.searchAction).Methods(http.MethodPost)
	r.HandleFunc("/searches/{id}/datasets/{dataset}/selection", s.selectSearchFiles).Methods(http.MethodPut)

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugw("writing response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		log.Warnw("request failed", "status", code, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errNotFound), errors.Is(err, download.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, download.ErrInvalidArgument), errors.Is(err, search.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, download.ErrIllegalState), errors.Is(err, search.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, download.ErrIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Decoding failures are invalid arguments.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %w", download.ErrInvalidArgument, err)
	}
	return nil
}
