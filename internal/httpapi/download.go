package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tgstream/internal/stream"
	"tgstream/internal/tgc"
)

/* ===== download ===== */

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")

	loc, err := s.Resolver.ResolveRequest(r.Context(), id)
	if err != nil {
		status, msg := resolveStatus(err)
		logRequestError("stream", r, err)
		writeError(w, status, msg)
		return
	}

	plan, partial, err := stream.Translate(r.Header.Get("Range"), loc.Size, s.ChunkSize)
	if err != nil {
		var rns *stream.RangeNotSatisfiableError
		if errors.As(err, &rns) {
			w.Header().Set("Content-Range", rns.ContentRange())
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
			return
		}
		writeError(w, http.StatusBadRequest, "bad range header")
		return
	}

	streamID := uuid.NewString()
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}
	setStreamHeaders := func() {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", contentTypeFor(loc.MimeType, name))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", plan.Length()))
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, safeName(name)))
		w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
		w.Header().Set("X-Stream-Id", streamID)
		if partial {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", plan.Start, plan.End, plan.Size))
		}
	}

	if r.Method == http.MethodHead {
		setStreamHeaders()
		w.WriteHeader(status)
		return
	}

	worker := s.Pool.Select(loc.DCID)
	if worker == nil {
		writeError(w, http.StatusServiceUnavailable, "no workers available")
		return
	}
	setStreamHeaders()
	s.Pool.Acquire(worker)
	defer s.Pool.Release(worker)

	rec := stream.NewRecord(streamID, loc.ChatID, loc.MsgID, worker.Index, loc.DCID)
	rec.RequestPath = r.URL.Path
	rec.ClientHost = clientHost(r)
	s.Registry.Register(rec)

	engine := &stream.Engine{
		Source:      s.chunkSource(worker, loc, id),
		Record:      rec,
		Parallelism: s.Parallelism,
		Reporter:    s.Reporter,
	}

	w.WriteHeader(status)
	fw := newFlushWriter(w)

	log.Printf("[stream] %s start: msg %d/%d bytes %d-%d (%d chunks) via worker %d",
		streamID, loc.ChatID, loc.MsgID, plan.Start, plan.End, plan.ChunkCount, worker.Index)

	if err := engine.Stream(r.Context(), plan, fw); err != nil {
		logRequestError("stream", r, err)
		return
	}
	log.Printf("[stream] %s done: %d bytes", streamID, rec.TotalBytes())
}

// chunkSource wires a worker and a locator into a source whose expired
// file references re-resolve through the resolver.
func (s *Server) chunkSource(worker *tgc.Worker, loc *tgc.FileLocator, id string) *tgc.Source {
	return tgc.NewSource(tgc.SourceOptions{
		Worker:       worker,
		Locator:      loc,
		MaxFloodWait: s.MaxFloodWait,
		Attempts:     s.FetchAttempts,
		Refresh: func(ctx context.Context) (*tgc.FileLocator, error) {
			s.Resolver.Invalidate(loc.ChatID, loc.MsgID)
			return s.Resolver.ResolveRequest(ctx, id)
		},
	})
}

func contentTypeFor(mimeType, name string) string {
	if mimeType != "" {
		return mimeType
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// safeName strips anything that could break out of the header value.
func safeName(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\n', '\r', '/':
			return '_'
		}
		return r
	}, name)
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

/* ===== flush writer ===== */

// flushWriter pushes each delivered chunk out immediately so players see
// bytes as soon as they exist instead of waiting for the buffer to fill.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	return &flushWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if ferr := f.rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
		return n, ferr
	}
	return n, nil
}
