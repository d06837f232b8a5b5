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

// Package httputil wraps net/http with send options and a typed status
// error, the same verb-helper shape used throughout the blob-client /
// blob-server protocol.
package httputil

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError occurs when an HTTP request returns a status code which was
// not explicitly marked as "successful" by the caller.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf(
		"%s %s %d: %s", e.Method, e.URL, e.Status, e.ResponseDump)
}

// IsNotFound returns true if err is a StatusError with status 404.
func IsNotFound(err error) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == http.StatusNotFound
}

// IsForbidden returns true if err is a StatusError with status 403.
func IsForbidden(err error) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == http.StatusForbidden
}

// IsStatus returns true if err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == status
}

type sendOptions struct {
	timeout       time.Duration
	acceptedCodes map[int]bool
	headers       map[string]string
	tls           *tls.Config
	body          io.Reader
	transport     http.RoundTripper
}

// SendOption allows overriding defaults for send.
type SendOption func(*sendOptions)

// SendTimeout sets a timeout for the request.
func SendTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = timeout }
}

// SendAcceptedCodes adds additional status codes which are considered
// successful by the client, beyond the default of 200 OK.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendHeaders adds headers to the request.
func SendHeaders(h map[string]string) SendOption {
	return func(o *sendOptions) { o.headers = h }
}

// SendTLS configures the request with tls.
func SendTLS(c *tls.Config) SendOption {
	return func(o *sendOptions) { o.tls = c }
}

// SendBody sets the request body.
func SendBody(body io.Reader) SendOption {
	return func(o *sendOptions) { o.body = body }
}

// SendTransport overrides the http.RoundTripper used to send the request.
// Primarily for tests.
func SendTransport(t http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = t }
}

func send(method, url string, opts ...SendOption) (*http.Response, error) {
	o := &sendOptions{
		timeout:       60 * time.Second,
		acceptedCodes: map[int]bool{http.StatusOK: true},
	}
	for _, opt := range opts {
		opt(o)
	}

	req, err := http.NewRequest(method, url, o.body)
	if err != nil {
		return nil, fmt.Errorf("new request: %s", err)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: o.timeout}
	if o.transport != nil {
		client.Transport = o.transport
	} else if o.tls != nil {
		client.Transport = &http.Transport{TLSClientConfig: o.tls}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if !o.acceptedCodes[resp.StatusCode] {
		defer resp.Body.Close()
		dump := make([]byte, 4096)
		n, _ := resp.Body.Read(dump)
		return nil, StatusError{
			Method:       method,
			URL:          url,
			Status:       resp.StatusCode,
			ResponseDump: string(dump[:n]),
		}
	}
	return resp, nil
}

// Get sends a GET request.
func Get(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodGet, url, opts...)
}

// Post sends a POST request.
func Post(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodPost, url, opts...)
}

// Put sends a PUT request.
func Put(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodPut, url, opts...)
}

// Delete sends a DELETE request.
func Delete(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodDelete, url, opts...)
}

// Head sends a HEAD request.
func Head(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodHead, url, opts...)
}
