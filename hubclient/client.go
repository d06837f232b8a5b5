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

// Package hubclient is a request-scoped handle to a single storage hub,
// wrapping the blob-server protocol of SPEC_FULL.md §6 the way
// origin/blobclient.HTTPClient wraps kraken's origin blob-server protocol.
package hubclient

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/internal/httputil"
)

// Client is the operations a Fragment/File session needs from a hub.
type Client interface {
	Addr() string
	GetContent(fragID string) ([]byte, error)
	GetHash(fragID string) (string, error)
	PutContent(fragID string, content []byte) (availableBytes int64, err error)
	Delete(fragID string) (availableBytes int64, err error)
	Stats() (availableBytes, storedBytes int64, err error)
}

// HTTPClient is the Client implementation, addressed by hub address.
type HTTPClient struct {
	addr    string
	timeout time.Duration
	tls     *tls.Config
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithTLS configures the client with TLS.
func WithTLS(tls *tls.Config) Option {
	return func(c *HTTPClient) { c.tls = tls }
}

// New returns a Client scoped to addr.
func New(addr string, opts ...Option) *HTTPClient {
	c := &HTTPClient{addr: addr, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the hub address this client talks to.
func (c *HTTPClient) Addr() string {
	return c.addr
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

// GetContent returns the raw fragment bytes. Returns errkind.ErrNotFound if
// the hub does not have it; any other transport or protocol error is a
// DownloadFailed RemoteStorageError, or ErrConnectionTimeout on timeout.
func (c *HTTPClient) GetContent(fragID string) ([]byte, error) {
	resp, err := httputil.Get(
		fmt.Sprintf("http://%s/blobs/%s", c.addr, fragID),
		httputil.SendTimeout(c.timeout),
		httputil.SendTLS(c.tls))
	if err != nil {
		return nil, classify(err, errkind.DownloadFailed)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errkind.RemoteStorageError{Kind: errkind.DownloadFailed, Cause: err}
	}
	return content, nil
}

// GetHash returns the remote-computed digest of the fragment.
func (c *HTTPClient) GetHash(fragID string) (string, error) {
	resp, err := httputil.Get(
		fmt.Sprintf("http://%s/blobs/%s/hash", c.addr, fragID),
		httputil.SendTimeout(c.timeout),
		httputil.SendTLS(c.tls))
	if err != nil {
		return "", classify(err, errkind.DownloadFailed)
	}
	defer resp.Body.Close()

	var body contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &errkind.RemoteStorageError{Kind: errkind.DownloadFailed, Cause: err}
	}
	return body.Hash, nil
}

// PutContent writes content under fragID. On success, returns the hub's
// post-write available_bytes. On a capacity refusal, returns
// InsufficientStorageSpace carrying the refused available_bytes so the
// caller can still update the Hub record. Any other non-success is
// UploadFailed.
func (c *HTTPClient) PutContent(fragID string, content []byte) (int64, error) {
	resp, err := httputil.Put(
		fmt.Sprintf("http://%s/blobs/%s", c.addr, fragID),
		httputil.SendTimeout(c.timeout),
		httputil.SendTLS(c.tls),
		httputil.SendBody(bytes.NewReader(content)),
		httputil.SendAcceptedCodes(http.StatusOK, http.StatusForbidden))
	if err != nil {
		return 0, classify(err, errkind.UploadFailed)
	}
	defer resp.Body.Close()

	var body contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &errkind.RemoteStorageError{Kind: errkind.UploadFailed, Cause: err}
	}
	if resp.StatusCode == http.StatusForbidden {
		return body.AvailableBytes, &errkind.RemoteStorageError{
			Kind:           errkind.InsufficientStorageSpace,
			AvailableBytes: body.AvailableBytes,
			HasAvailable:   true,
		}
	}
	return body.AvailableBytes, nil
}

// Delete removes the fragment. Idempotent: a not-found response is treated
// as success by the hub itself, per SPEC_FULL.md §6.
func (c *HTTPClient) Delete(fragID string) (int64, error) {
	resp, err := httputil.Delete(
		fmt.Sprintf("http://%s/blobs/%s", c.addr, fragID),
		httputil.SendTimeout(c.timeout),
		httputil.SendTLS(c.tls))
	if err != nil {
		return 0, classify(err, errkind.DeleteFailed)
	}
	defer resp.Body.Close()

	var body contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &errkind.RemoteStorageError{Kind: errkind.DeleteFailed, Cause: err}
	}
	return body.AvailableBytes, nil
}

// Stats returns the hub's current capacity snapshot.
func (c *HTTPClient) Stats() (int64, int64, error) {
	resp, err := httputil.Get(
		fmt.Sprintf("http://%s/stats", c.addr),
		httputil.SendTimeout(c.timeout),
		httputil.SendTLS(c.tls))
	if err != nil {
		return 0, 0, classify(err, errkind.DownloadFailed)
	}
	defer resp.Body.Close()

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, &errkind.RemoteStorageError{Kind: errkind.DownloadFailed, Cause: err}
	}
	return body.AvailableBytes, body.StoredBytes, nil
}

// classify maps a transport-level error into the taxonomy of SPEC_FULL.md
// §7: not-found and timeouts get their own kinds, everything else becomes a
// RemoteStorageError of the given kind.
func classify(err error, kind errkind.RemoteStorageKind) error {
	if httputil.IsNotFound(err) {
		return errkind.ErrNotFound
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errkind.ErrConnectionTimeout
	}
	return &errkind.RemoteStorageError{Kind: kind, Cause: err}
}
