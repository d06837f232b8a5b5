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

// Package cumulusclient implements the client-facing broker HTTP surface
// of SPEC_FULL.md §6: LIST/POST/GET over /files, grounded on
// original_source/app/views.py's list_files/post_file/get_file. Routing
// and error translation follow the same go-chi/chi/v5 + internal/handler
// idiom as hubserver.
package cumulusclient

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/docker/distribution/uuid"
	"github.com/go-chi/chi/v5"

	"github.com/cumulus-storage/cumulus/catalog"
	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/internal/handler"
	"github.com/cumulus-storage/cumulus/internal/log"
)

// Store is the subset of catalog.Store the broker's client surface needs.
type Store interface {
	FindHubByReference(ref string) (catalog.Hub, error)
	ListFiles(source string) ([]catalog.File, error)
	FindFile(source, collection, filename string) (catalog.File, error)
	CreateFile(f catalog.File) error
	OpenFile(f *catalog.File) (*catalog.FileSession, error)
}

// Server serves the broker's client-facing /files API.
type Server struct {
	store Store
}

// New constructs a Server over store.
func New(store Store) *Server {
	return &Server{store: store}
}

// Handler returns the root HTTP handler for the broker's client surface.
func (s *Server) Handler() http.Handler {
	// chi only routes methods it knows; LIST is not a standard one.
	chi.RegisterMethod("LIST")
	r := chi.NewRouter()
	r.Method("LIST", "/files", handler.Wrap(s.listFilesHandler))
	r.Post("/files", handler.Wrap(s.postFileHandler))
	r.Get("/files", handler.Wrap(s.getFileHandler))
	return r
}

type fileResponse struct {
	UUID       string        `json:"uuid"`
	Source     string        `json:"source"`
	Collection string        `json:"collection"`
	Filename   string        `json:"filename"`
	Hash       string        `json:"hash"`
	Encoding   core.Encoding `json:"encoding"`
	CreatedAt  time.Time     `json:"created_at"`
}

// fileContentResponse is fileResponse extended with the file's raw bytes,
// the shape get_file() returns: original_source/app/serializers.py's
// FileContentSerializer is exactly FileSerializer's dict plus a "content"
// key holding the read bytes. encoding/json marshals a []byte field as a
// base64 string, so this is the same envelope-plus-content shape over the
// wire.
type fileContentResponse struct {
	fileResponse
	Content []byte `json:"content"`
}

func toFileResponse(f catalog.File) fileResponse {
	return fileResponse{
		UUID:       f.ID,
		Source:     f.Source,
		Collection: f.Collection,
		Filename:   f.Filename,
		Hash:       f.Hash.String(),
		Encoding:   f.Encoding,
		CreatedAt:  f.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return handler.Errorf("encode response: %s", err)
	}
	return nil
}

// statusForErr maps the taxonomy of errkind to an HTTP status, the broker
// side of the error-to-response translation SPEC_FULL.md §6 calls for.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, errkind.ErrObjectDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, errkind.ErrMultipleObjectsFound):
		return http.StatusConflict
	case errors.Is(err, errkind.ErrNoRemoteStorageLocationFound):
		return http.StatusInsufficientStorage
	case errkind.IsRemoteStorageOrTimeout(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// asHandlerErr wraps err as a *handler.Error carrying the status
// statusForErr maps it to.
func asHandlerErr(prefix string, err error) error {
	return handler.Errorf("%s: %s", prefix, err).Status(statusForErr(err))
}

// listFilesHandler implements list_files(): every file, optionally
// filtered to one source hub (identified by its external reference).
func (s *Server) listFilesHandler(w http.ResponseWriter, r *http.Request) error {
	source := r.URL.Query().Get("source")
	hubID := ""
	if source != "" {
		hub, err := s.store.FindHubByReference(source)
		if err != nil {
			return asHandlerErr("resolve source", err)
		}
		hubID = hub.ID
	}

	files, err := s.store.ListFiles(hubID)
	if err != nil {
		return handler.Errorf("list files: %s", err)
	}
	resp := make([]fileResponse, len(files))
	for i, f := range files {
		resp[i] = toFileResponse(f)
	}
	return writeJSON(w, http.StatusOK, resp)
}

type postMetadata struct {
	Source     string `json:"source"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// readMultipart pulls the "metadata" JSON part and "content" raw part out
// of a multipart POST body, the wire shape SPEC_FULL.md §6 specifies.
func readMultipart(r *http.Request) (postMetadata, []byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return postMetadata{}, nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var meta postMetadata
	var content []byte
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return postMetadata{}, nil, err
		}
		switch part.FormName() {
		case "metadata":
			if err := json.NewDecoder(part).Decode(&meta); err != nil {
				return postMetadata{}, nil, err
			}
		case "content":
			content, err = io.ReadAll(part)
			if err != nil {
				return postMetadata{}, nil, err
			}
		}
	}
	return meta, content, nil
}

// postFileHandler implements post_file(): upsert-by-(source, collection,
// name), then write the uploaded content through a FileSession. A brand
// new file is created with core.DefaultEncoding, matching the original's
// DEFAULT_ENCODING.
func (s *Server) postFileHandler(w http.ResponseWriter, r *http.Request) error {
	meta, content, err := readMultipart(r)
	if err != nil {
		return handler.Errorf("parse multipart body: %s", err).Status(http.StatusBadRequest)
	}

	hub, err := s.store.FindHubByReference(meta.Source)
	if err != nil {
		return asHandlerErr("resolve source", err)
	}

	file, err := s.store.FindFile(hub.ID, meta.Collection, meta.Name)
	if errors.Is(err, errkind.ErrObjectDoesNotExist) {
		file = catalog.File{
			ID:         uuid.Generate().String(),
			Source:     hub.ID,
			Collection: meta.Collection,
			Filename:   meta.Name,
			Encoding:   core.DefaultEncoding,
		}
		if err := s.store.CreateFile(file); err != nil {
			return handler.Errorf("create file: %s", err)
		}
	} else if err != nil {
		return asHandlerErr("find file", err)
	}

	fsess, err := s.store.OpenFile(&file)
	if err != nil {
		return asHandlerErr("open file", err)
	}
	if err := fsess.Write(content); err != nil {
		_ = fsess.Close()
		return asHandlerErr("write file", err)
	}
	if err := fsess.Close(); err != nil {
		return asHandlerErr("close file", err)
	}

	log.Infof("cumulusclient: wrote %s/%s/%s (%d bytes)", meta.Source, meta.Collection, meta.Name, len(content))
	return writeJSON(w, http.StatusOK, toFileResponse(file))
}

// getFileHandler implements get_file(): the metadata record for the
// unique file matching (source, collection, name), extended with its raw
// content, matching FileContentSerializer's dict-plus-content shape.
func (s *Server) getFileHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	source, collection, name := q.Get("source"), q.Get("collection"), q.Get("name")

	hub, err := s.store.FindHubByReference(source)
	if err != nil {
		return asHandlerErr("resolve source", err)
	}

	file, err := s.store.FindFile(hub.ID, collection, name)
	if err != nil {
		return asHandlerErr("find file", err)
	}

	fsess, err := s.store.OpenFile(&file)
	if err != nil {
		return asHandlerErr("open file", err)
	}
	defer fsess.Close()

	content, err := fsess.ReadAll()
	if err != nil {
		return asHandlerErr("read file", err)
	}

	resp := fileContentResponse{
		fileResponse: toFileResponse(file),
		Content:      content,
	}
	return writeJSON(w, http.StatusOK, resp)
}
