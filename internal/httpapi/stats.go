package httpapi

import (
	"net/http"

	"tgstream/pkg/types"
)

/* ===== observability ===== */

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := types.StatsResponse{
		ActiveStreams: s.Registry.ActiveSnapshots(),
		RecentStreams: s.Registry.RecentSnapshots(),
	}
	if s.Pool != nil {
		resp.WorkerLoads = s.Pool.Loads()
		resp.WorkerDCMap = s.Pool.DCMap()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	info, ok := s.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream id")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
