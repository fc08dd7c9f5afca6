package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/search"
)

type searchView struct {
	ID         uuid.UUID         `json:"id"`
	Query      string            `json:"query"`
	Status     search.Status     `json:"status"`
	Datasets   []string          `json:"datasets"`
	Harvested  int               `json:"harvested"`
	Aborted    map[string]string `json:"aborted,omitempty"`
	Total      int               `json:"total"`
	StartedAt  time.Time         `json:"started_at,omitzero"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
}

func viewSearch(s *search.Search) searchView {
	done, _, total := s.Progress()
	v := searchView{
		ID:         s.ID(),
		Query:      s.Query(),
		Status:     s.Status(),
		Datasets:   s.DatasetIDs(),
		Harvested:  done,
		Total:      total,
		StartedAt:  s.StartedAt(),
		FinishedAt: s.FinishedAt(),
	}
	for _, id := range v.Datasets {
		if reason, ok := s.AbortReason(id); ok {
			if v.Aborted == nil {
				v.Aborted = make(map[string]string)
			}
			v.Aborted[id] = reason.Error()
		}
	}
	return v
}

func (s *Server) listSearches(w http.ResponseWriter, r *http.Request) {
	out := []searchView{}
	for _, sr := range s.Searches.List() {
		out = append(out, viewSearch(sr))
	}
	writeJSON(w, http.StatusOK, out)
}

type searchRequest struct {
	Query    string   `json:"query"`
	Datasets []string `json:"datasets"`
}

// createSearch registers a search over the given datasets and starts
// harvesting them.
func (s *Server) createSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Datasets == nil {
		writeError(w, search.ErrNilArgument)
		return
	}
	sr := search.New(req.Query, req.Datasets)
	s.Searches.Add(sr)
	if err := sr.Run(r.Context(), s.Harvests, s.Harvester); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSearch(sr))
}

func (s *Server) search(r *http.Request) (*search.Search, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: search id %q: %w", search.ErrInvalidArgument, raw, err)
	}
	sr, ok := s.Searches.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: search %s", errNotFound, id)
	}
	return sr, nil
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	sr, err := s.search(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSearch(sr))
}

type applyResponse struct {
	Search   searchView                 `json:"search"`
	Datasets []download.DatasetSnapshot `json:"datasets"`
	Errors   []string                   `json:"errors,omitempty"`
}

func (s *Server) searchAction(w http.ResponseWriter, r *http.Request) {
	sr, err := s.search(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch mux.Vars(r)["action"] {
	case "pause":
		err = sr.Pause()
	case "resume":
		err = sr.Resume()
	case "apply":
		s.apply(w, r, sr)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSearch(sr))
}

// apply reports per-dataset failures in the body; the request only fails
// when nothing could be applied.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, sr *search.Search) {
	datasets, err := sr.Apply(r.Context(), s.Downloads)
	if err != nil && len(datasets) == 0 {
		writeError(w, err)
		return
	}
	resp := applyResponse{Search: viewSearch(sr), Datasets: []download.DatasetSnapshot{}}
	for _, d := range datasets {
		resp.Datasets = append(resp.Datasets, d.Snapshot())
	}
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) selectSearchFiles(w http.ResponseWriter, r *http.Request) {
	sr, err := s.search(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req selectionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := sr.SelectFiles(mux.Vars(r)["dataset"], req.Files); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSearch(sr))
}
