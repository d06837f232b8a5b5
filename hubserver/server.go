// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hubserver implements the blob-server protocol of SPEC_FULL.md §6:
// the "dumb byte/hash/capacity service" a hub exposes over HTTP, grounded
// on origin/blobserver.Server's chi-router, handler.Wrap shape (the
// routing and request-handling idiom carries over even though the route
// set and bodies are entirely different — Cumulus hubs are a flat
// fragment store, not a torrent/cache origin).
package hubserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/uber-go/tally"

	"github.com/cumulus-storage/cumulus/internal/handler"
	"github.com/cumulus-storage/cumulus/internal/log"
)

// Server serves a single hub's blob-server HTTP API.
type Server struct {
	config Config
	store  *blobStore
	stats  tally.Scope
}

// New constructs a Server. config is defaulted via applyDefaults().
func New(config Config, stats tally.Scope) (*Server, error) {
	config = config.applyDefaults()
	store, err := newBlobStore(config)
	if err != nil {
		return nil, err
	}
	return &Server{
		config: config,
		store:  store,
		stats:  stats.Tagged(map[string]string{"module": "hubserver"}),
	}, nil
}

// Handler returns the root HTTP handler for this hub.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Put("/blobs/{fragID}", handler.Wrap(s.putBlobHandler))
	r.Get("/blobs/{fragID}", handler.Wrap(s.getBlobHandler))
	r.Delete("/blobs/{fragID}", handler.Wrap(s.deleteBlobHandler))
	r.Get("/blobs/{fragID}/hash", handler.Wrap(s.getHashHandler))
	r.Get("/stats", handler.Wrap(s.getStatsHandler))

	return r
}

// ListenAndServe runs the hub's HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.config.Addr, Handler: s.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type contentResponse struct {
	FragID         string `json:"frag_id"`
	Hash           string `json:"hash"`
	AvailableBytes int64  `json:"available_bytes"`
}

type statsResponse struct {
	AvailableBytes int64 `json:"available_bytes"`
	StoredBytes    int64 `json:"stored_bytes"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return handler.Errorf("encode response: %s", err)
	}
	return nil
}

// putBlobHandler implements create_file(): writes the request body under
// fragID if capacity allows, otherwise refuses with 403 and the hub's
// current available_bytes (original_source/storage_4.py).
func (s *Server) putBlobHandler(w http.ResponseWriter, r *http.Request) error {
	fragID := chi.URLParam(r, "fragID")
	content, err := io.ReadAll(r.Body)
	if err != nil {
		return handler.Errorf("read body: %s", err).Status(http.StatusBadRequest)
	}

	available, accepted, err := s.store.put(fragID, content)
	if err != nil {
		log.Errorf("hubserver: put %s: %s", fragID, err)
		return handler.Errorf("put blob: %s", err)
	}
	if !accepted {
		log.Warnf("hubserver: refusing %s: %s available, %s requested",
			fragID, humanize.Bytes(uint64(available)), humanize.Bytes(uint64(len(content))))
		return writeJSON(w, http.StatusForbidden, contentResponse{FragID: fragID, AvailableBytes: available})
	}

	digest, err := s.store.hash(fragID)
	if err != nil {
		return handler.Errorf("hash blob: %s", err)
	}
	s.stats.Counter("blobs_put").Inc(1)
	return writeJSON(w, http.StatusOK, contentResponse{FragID: fragID, Hash: digest.String(), AvailableBytes: available})
}

// getBlobHandler implements retrieve_file(): the raw fragment bytes, or 404.
func (s *Server) getBlobHandler(w http.ResponseWriter, r *http.Request) error {
	fragID := chi.URLParam(r, "fragID")
	content, err := s.store.get(fragID)
	if errors.Is(err, os.ErrNotExist) {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if err != nil {
		return handler.Errorf("get blob: %s", err)
	}
	s.stats.Counter("blobs_get").Inc(1)
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(content); err != nil {
		return handler.Errorf("write response: %s", err)
	}
	return nil
}

// getHashHandler implements retrieve_hash(): the remote-computed digest of
// a stored fragment.
func (s *Server) getHashHandler(w http.ResponseWriter, r *http.Request) error {
	fragID := chi.URLParam(r, "fragID")
	digest, err := s.store.hash(fragID)
	if errors.Is(err, os.ErrNotExist) {
		return handler.ErrorStatus(http.StatusNotFound)
	}
	if err != nil {
		return handler.Errorf("hash blob: %s", err)
	}
	return writeJSON(w, http.StatusOK, contentResponse{FragID: fragID, Hash: digest.String()})
}

// deleteBlobHandler implements delete_file(): idempotent removal, always
// returning the hub's resulting available_bytes.
func (s *Server) deleteBlobHandler(w http.ResponseWriter, r *http.Request) error {
	fragID := chi.URLParam(r, "fragID")
	if err := s.store.delete(fragID); err != nil {
		return handler.Errorf("delete blob: %s", err)
	}
	available, err := s.store.availableBytes()
	if err != nil {
		return handler.Errorf("compute available bytes: %s", err)
	}
	s.stats.Counter("blobs_deleted").Inc(1)
	return writeJSON(w, http.StatusOK, contentResponse{FragID: fragID, AvailableBytes: available})
}

// getStatsHandler implements retrieve_stats(): a capacity snapshot served
// to hubclient.Stats.
func (s *Server) getStatsHandler(w http.ResponseWriter, r *http.Request) error {
	available, err := s.store.availableBytes()
	if err != nil {
		return handler.Errorf("compute available bytes: %s", err)
	}
	stored, err := s.store.storedBytes()
	if err != nil {
		return handler.Errorf("compute stored bytes: %s", err)
	}
	return writeJSON(w, http.StatusOK, statsResponse{AvailableBytes: available, StoredBytes: stored})
}
