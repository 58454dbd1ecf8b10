package server

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/sanonone/pias/pkg/graph"
)

// registerHTTPHandlers sets up the admin routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /rounds/{id}", s.handleRound)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("POST /labels", s.handleLabels)
	mux.HandleFunc("POST /refresh", s.handleRefresh)

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState reports the latest successful and latest attempted rounds.
// ?segmentation=1 includes the segmentation of the latest successful round.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	withSeg, _ := strconv.ParseBool(r.URL.Query().Get("segmentation"))
	s.writeHTTPResponse(w, http.StatusOK, StatusResponse{
		LastSolutionID: s.wf.LastSolutionID(),
		Pending:        s.wf.Pending(),
		Latest:         newStateResponse(s.wf.LatestState(), withSeg),
		LatestAttempt:  newStateResponse(s.wf.LatestAttempt(), false),
	})
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	info, ok := s.wf.Round(id)
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "round not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, info)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := s.wf.RequestUpdateState()
	s.writeHTTPResponse(w, http.StatusAccepted, UpdateResponse{SolutionID: id})
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	var req LabelsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	edges := make([]graph.Edge, len(req.Labels))
	labels := make([]int, len(req.Labels))
	for i, t := range req.Labels {
		edges[i] = graph.NewEdge(t.U, t.V)
		labels[i] = t.Label
	}
	applied, err := s.wf.RequestSetEdgeLabels(edges, labels)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, LabelsResponse{Applied: applied})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.writeHTTPError(w, http.StatusNotImplemented, "refresh not available")
		return
	}
	if err := s.refresher.RequestUpdateEdges(r.Context()); err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
