package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"syscall"
	"time"

	"tgstream/internal/hls"
	"tgstream/internal/stream"
	"tgstream/internal/tgc"
)

/* ===== server ===== */

// Resolver turns opaque stream ids into file locators.
type Resolver interface {
	ResolveRequest(ctx context.Context, id string) (*tgc.FileLocator, error)
	Invalidate(chatID int64, msgID int)
}

// Server holds every collaborator the HTTP surface needs. All fields are
// injected so tests can swap in fakes.
type Server struct {
	Pool     *tgc.Pool
	Resolver Resolver
	Registry *stream.Registry
	Reporter stream.UsageReporter

	Remuxer  *hls.Remuxer
	Segments *hls.SegmentCache

	ChunkSize     int64
	Parallelism   int
	MaxFloodWait  time.Duration
	FetchAttempts int
	ProbeBytes    int64
}

func (s *Server) Routes(mux *http.ServeMux) {
	// GET patterns also match HEAD; handleDownload stops after headers
	mux.HandleFunc("GET /dl/{id}/{name}", s.handleDownload)
	mux.HandleFunc("GET /stream/stats", s.handleStats)
	mux.HandleFunc("GET /stream/stats/{id}", s.handleStreamStats)
	mux.HandleFunc("GET /hls/{id}/master.m3u8", s.handleMaster)
	mux.HandleFunc("GET /hls/{id}/{quality}/playlist.m3u8", s.handlePlaylist)
	mux.HandleFunc("GET /hls/{id}/{quality}/{segment}", s.handleSegment)
}

/* ===== helpers ===== */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolveStatus maps resolver failures onto HTTP statuses.
func resolveStatus(err error) (int, string) {
	switch {
	case errors.Is(err, stream.ErrHashMismatch):
		return http.StatusForbidden, "file no longer matches this link"
	case errors.Is(err, stream.ErrInvalidRequest):
		return http.StatusBadRequest, "bad stream id"
	default:
		return http.StatusBadGateway, "upstream unavailable"
	}
}

// clientGone reports whether an error is just the client disconnecting.
func clientGone(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(err.Error(), "client disconnected") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset")
}

func logRequestError(tag string, r *http.Request, err error) {
	if clientGone(err) {
		return
	}
	log.Printf("[%s] %s %s: %v", tag, r.Method, r.URL.Path, err)
}
