// Package status serves the optional HTTP status API of a running mount.
package status

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bietiekay/riak-fuse/internal/dirindex"
	"github.com/bietiekay/riak-fuse/internal/locking"
	"github.com/bietiekay/riak-fuse/internal/metrics"
	"github.com/bietiekay/riak-fuse/internal/riakstore"
	"github.com/bietiekay/riak-fuse/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux   *http.ServeMux
	Store riakstore.Store
	Index *dirindex.Index
	Stats *metrics.Stats
	// Locks is nil unless paths are serialized.
	Locks *locking.Manager
	// ReadyFunc, if set, determines readiness. When nil, the mount is considered ready.
	ReadyFunc func() bool
	Token     string
}

// New builds a Server and registers its routes. gatherer backs /metrics.
func New(store riakstore.Store, index *dirindex.Index, stats *metrics.Stats, gatherer prometheus.Gatherer) *Server {
	s := &Server{Mux: http.NewServeMux(), Store: store, Index: index, Stats: stats}
	s.routes(gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.Mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	s.Mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.ReadyFunc != nil && !s.ReadyFunc() {
			w.WriteHeader(503)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	s.Mux.HandleFunc("/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, version.Get())
	})
	if gatherer != nil {
		s.Mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// secured routes
	s.Mux.HandleFunc("/v1/stats", s.secure(s.handleStats))
	s.Mux.HandleFunc("/v1/stats/reset", s.secure(s.handleStatsReset))
	s.Mux.HandleFunc("/v1/locks", s.secure(s.handleLocks))
	s.Mux.HandleFunc("/v1/directory", s.secure(s.handleDirectory))
	s.Mux.HandleFunc("/v1/object", s.secure(s.handleObject))
}

func (s *Server) secure(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			hdr := r.Header.Get("Authorization")
			const pfx = "Bearer "
			if len(hdr) < len(pfx) || hdr[:len(pfx)] != pfx || hdr[len(pfx):] != s.Token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	JSON(w, 200, s.Stats.Snapshot())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(405)
		return
	}
	s.Stats.Reset()
	w.WriteHeader(204)
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if s.Locks == nil {
		JSON(w, 200, []locking.Info{})
		return
	}
	JSON(w, 200, s.Locks.List())
}

// handleDirectory returns the keys and sizes recorded for ?bucket=.
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("missing bucket"))
		return
	}
	keys, err := s.Index.Listing(r.Context(), bucket)
	if err != nil {
		JSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	type entry struct {
		Key  string `json:"key"`
		Size *int64 `json:"size,omitempty"`
	}
	out := make([]entry, 0, len(keys))
	for _, k := range keys {
		e := entry{Key: k}
		if size, ok, err := s.Index.Size(r.Context(), bucket, k); err == nil && ok {
			e.Size = &size
		}
		out = append(out, e)
	}
	JSON(w, 200, map[string]any{"bucket": bucket, "keys": out})
}

// handleObject streams the object at ?bucket=&key=.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket, key := q.Get("bucket"), q.Get("key")
	if bucket == "" || key == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("missing bucket or key"))
		return
	}
	obj, err := s.Store.FetchObject(r.Context(), bucket, key)
	if errors.Is(err, riakstore.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		JSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.WriteHeader(200)
	w.Write(obj.Value)
}
