package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/progress"
)

type statusResponse struct {
	Datasets     int     `json:"datasets"`
	CurrentBytes int64   `json:"current_bytes"`
	TotalBytes   int64   `json:"total_bytes"`
	Percent      float64 `json:"percent"`
	Active       int     `json:"active_files"`
	Finished     int     `json:"finished_files"`
	Failed       int     `json:"failed_files"`
	Pending      int     `json:"pending_files"`
	Searches     int     `json:"searches"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := progress.Collect(s.Downloads.List())
	resp := statusResponse{
		Datasets:     st.Datasets,
		CurrentBytes: st.Current,
		TotalBytes:   st.Total,
		Active:       st.Active,
		Finished:     st.Finished,
		Failed:       st.Failed,
		Pending:      st.Pending,
	}
	if st.Total > 0 {
		resp.Percent = float64(st.Current) / float64(st.Total) * 100
	}
	if s.Searches != nil {
		resp.Searches = len(s.Searches.List())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	out := []download.DatasetSnapshot{}
	for _, d := range s.Downloads.List() {
		out = append(out, d.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

type enqueueRequest struct {
	InstanceID string   `json:"instance_id"`
	Files      []string `json:"files,omitempty"`
	Start      bool     `json:"start,omitempty"`
	Priority   int      `json:"priority,omitempty"`
}

// enqueueDataset registers a dataset. With files set, only those files are
// selected and started; otherwise start starts every file.
func (s *Server) enqueueDataset(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.InstanceID == "" {
		writeError(w, fmt.Errorf("%w: instance_id is required", download.ErrInvalidArgument))
		return
	}

	d, err := s.Downloads.Enqueue(r.Context(), req.InstanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Priority != 0 {
		d.SetPriority(req.Priority)
	}
	switch {
	case req.Files != nil:
		err = d.Select(r.Context(), req.Files)
	case req.Start:
		err = d.StartAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Snapshot())
}

func (s *Server) dataset(r *http.Request) (*download.Dataset, error) {
	id := mux.Vars(r)["id"]
	d, ok := s.Downloads.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", download.ErrNotFound, id)
	}
	return d, nil
}

func (s *Server) file(r *http.Request) (*download.Dataset, *download.File, error) {
	d, err := s.dataset(r)
	if err != nil {
		return nil, nil, err
	}
	id := mux.Vars(r)["file"]
	f, ok := d.File(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: file %s in dataset %s", errNotFound, id, d.ID())
	}
	return d, f, nil
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.dataset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) removeDataset(w http.ResponseWriter, r *http.Request) {
	deleteFiles := false
	if v := r.URL.Query().Get("delete_files"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: delete_files: %w", download.ErrInvalidArgument, err))
			return
		}
		deleteFiles = b
	}
	if err := s.Downloads.Remove(mux.Vars(r)["id"], deleteFiles); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.dataset(r)
	if err == nil {
		err = d.StartAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) pauseDataset(w http.ResponseWriter, r *http.Request) {
	d, err := s.dataset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	d.PauseAll()
	writeJSON(w, http.StatusOK, d.Snapshot())
}

type selectionRequest struct {
	Files []string `json:"files"`
}

func (s *Server) selectFiles(w http.ResponseWriter, r *http.Request) {
	d, err := s.dataset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req selectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := d.Select(r.Context(), req.Files); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) setPriority(w http.ResponseWriter, r *http.Request) {
	d, err := s.dataset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req priorityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d.SetPriority(req.Priority)
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) fileAction(w http.ResponseWriter, r *http.Request) {
	d, f, err := s.file(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch mux.Vars(r)["action"] {
	case "start":
		err = d.StartOne(r.Context(), f)
	case "pause":
		f.Pause()
	case "reset":
		err = f.Reset()
	case "skip":
		err = d.Skip(f)
	case "retry":
		err = f.Retry(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

type replicaRequest struct {
	DataNode string `json:"data_node"`
}

func (s *Server) pinReplica(w http.ResponseWriter, r *http.Request) {
	d, f, err := s.file(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req replicaRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f.PinReplica(req.DataNode)
	writeJSON(w, http.StatusOK, d.Snapshot())
}
