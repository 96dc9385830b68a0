package httpapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tgstream/internal/hls"
	"tgstream/internal/stream"
	"tgstream/internal/tgc"
)

/* ===== hls ===== */

const playlistContentType = "application/vnd.apple.mpegurl"

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc, err := s.Resolver.ResolveRequest(r.Context(), id)
	if err != nil {
		status, msg := resolveStatus(err)
		logRequestError("hls", r, err)
		writeError(w, status, msg)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	io.WriteString(w, hls.MasterPlaylist(id, loc.Width, loc.Height))
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.PathValue("quality") != hls.Quality {
		writeError(w, http.StatusNotFound, "unknown quality")
		return
	}
	loc, err := s.Resolver.ResolveRequest(r.Context(), id)
	if err != nil {
		status, msg := resolveStatus(err)
		logRequestError("hls", r, err)
		writeError(w, status, msg)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	io.WriteString(w, hls.VariantPlaylist(id, loc.Duration))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.PathValue("quality") != hls.Quality {
		writeError(w, http.StatusNotFound, "unknown quality")
		return
	}
	segIdx, err := segmentIndex(r.PathValue("segment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad segment name")
		return
	}

	cacheKey := fmt.Sprintf("%s/%s/%d", id, hls.Quality, segIdx)
	if data, ok := s.Segments.Get(cacheKey); ok {
		serveSegment(w, data)
		return
	}

	loc, err := s.Resolver.ResolveRequest(r.Context(), id)
	if err != nil {
		status, msg := resolveStatus(err)
		logRequestError("hls", r, err)
		writeError(w, status, msg)
		return
	}
	if segIdx >= hls.SegmentCount(loc.Duration) {
		writeError(w, http.StatusNotFound, "segment out of range")
		return
	}

	data, err := s.remuxSegment(r, loc, segIdx)
	if err != nil {
		logRequestError("hls", r, err)
		writeError(w, http.StatusBadGateway, "segment unavailable")
		return
	}
	s.Segments.Put(cacheKey, data)
	serveSegment(w, data)
}

// remuxSegment streams the media head through a pipe into FFmpeg and
// returns the cut segment. Copy-mode remux only needs the head of the
// file, so the probe window caps how much is pulled from Telegram.
func (s *Server) remuxSegment(r *http.Request, loc *tgc.FileLocator, segIdx int) ([]byte, error) {
	probeEnd := s.ProbeBytes - 1
	if probeEnd >= loc.Size {
		probeEnd = loc.Size - 1
	}
	plan := stream.BuildPlan(0, probeEnd, loc.Size, s.ChunkSize)

	worker := s.Pool.Select(loc.DCID)
	if worker == nil {
		return nil, fmt.Errorf("no workers available")
	}
	s.Pool.Acquire(worker)
	defer s.Pool.Release(worker)

	rec := stream.NewRecord(uuid.NewString(), loc.ChatID, loc.MsgID, worker.Index, loc.DCID)
	rec.RequestPath = r.URL.Path
	rec.ClientHost = clientHost(r)
	s.Registry.Register(rec)

	engine := &stream.Engine{
		Source:      s.chunkSource(worker, loc, r.PathValue("id")),
		Record:      rec,
		Parallelism: s.Parallelism,
		Reporter:    s.Reporter,
	}

	pr, pw := io.Pipe()
	go func() {
		err := engine.Stream(r.Context(), plan, pw)
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	start := float64(segIdx * hls.SegmentDuration)
	dur := float64(hls.SegmentDuration)
	if rem := loc.Duration - start; rem > 0 && rem < dur {
		dur = rem
	}

	data, err := s.Remuxer.Segment(r.Context(), pr, start, dur)
	if err != nil {
		return nil, err
	}
	log.Printf("[hls] %s segment %d ready (%d bytes)", r.PathValue("id"), segIdx, len(data))
	return data, nil
}

func serveSegment(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// segmentIndex parses "segment_7.ts" into 7.
func segmentIndex(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, "segment_")
	if !ok {
		return 0, fmt.Errorf("bad segment name %q", name)
	}
	rest, ok = strings.CutSuffix(rest, ".ts")
	if !ok {
		return 0, fmt.Errorf("bad segment name %q", name)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad segment index %q", rest)
	}
	return n, nil
}
