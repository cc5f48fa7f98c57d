// Package httpapi is the HTTP transport layer: URL routing, chunked
// transfer, status-code mapping, and item_id sanitization all live here,
// not in internal/engine.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/streamstore/streamstore/internal/engine"
	"github.com/streamstore/streamstore/internal/fs"
	"github.com/streamstore/streamstore/internal/metacache"
)

// Server wires the engine's Registry and a filesystem root into HTTP
// handlers.
type Server struct {
	Root     string
	FS       fs.FS
	Registry *engine.Registry
	Cache    *metacache.Cache
	Logger   *slog.Logger
}

// Routes returns an *http.ServeMux wired with the write/read endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /write-item-stream/{item_id}/{version}", s.logged(s.handleWrite))
	mux.HandleFunc("GET /read-item-stream/{item_id}/{version}", s.logged(s.handleRead))

	return mux
}

func (s *Server) logged(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		h(sw, r)

		if s.Logger != nil {
			s.Logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration", time.Since(start),
			)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(p []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(p)
	sw.bytes += int64(n)

	return n, err
}

// sanitizeItemID rejects path separators and traversal sequences. The
// core treats item_id as opaque; paths are formed by concatenation, so
// sanitization is this handler's responsibility.
func sanitizeItemID(itemID string) error {
	if itemID == "" {
		return errors.New("item_id must not be empty")
	}

	if strings.ContainsAny(itemID, "/\\") || strings.Contains(itemID, "..") {
		return errors.New("item_id must not contain path separators or traversal sequences")
	}

	return nil
}

func parseVersion(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("item_id")
	if err := sanitizeItemID(itemID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	version, err := parseVersion(r.PathValue("version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)

		return
	}

	writer, err := engine.OpenWriter(s.Root, s.FS, s.Registry, s.Cache, itemID, version)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}

		return
	}

	if writeErr := streamBody(r.Body, writer); writeErr != nil {
		writer.Close() // abandon without Finalize; writer state is undefined after a failed write

		if errors.Is(writeErr, errBodyRead) {
			http.Error(w, writeErr.Error(), http.StatusBadRequest)
		} else {
			http.Error(w, writeErr.Error(), http.StatusInternalServerError)
		}

		return
	}

	if err := writer.Finalize(); err != nil {
		writer.Close() // abandon after a failed commit; releases the locks

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusOK)
}

var errBodyRead = errors.New("error reading request body")

// streamBody forwards the HTTP request body to the Writer in ChunkSize
// reads, doing no interpretation of content.
func streamBody(body io.Reader, w *engine.Writer) error {
	buf := make([]byte, engine.ChunkSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := w.WriteChunk(buf[:n]); werr != nil {
				return werr
			}
		}

		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("%w: %w", errBodyRead, err)
		}
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("item_id")
	if err := sanitizeItemID(itemID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	version, err := parseVersion(r.PathValue("version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)

		return
	}

	reader, err := engine.OpenReader(s.Root, s.FS, s.Registry, itemID, version)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}

		return
	}
	defer reader.Close()

	h := w.Header()
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for {
		chunk, ok, err := reader.ReadChunk()
		if err != nil {
			// Headers are already sent; nothing better to do than stop.
			return
		}

		if !ok {
			return
		}

		if _, err := w.Write(chunk); err != nil {
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}
