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

// Package handler re-implements the error-to-HTTP-response translator that
// hubserver and cumulusclient call handler.Wrap/handler.Errorf the way
// origin/blobserver does, since the teacher's own utils/handler package
// wasn't retrieved intact. The calling convention (a Func returning error,
// Errorf(...).Status(...), ErrorStatus(...)) is copied from the call sites
// in origin/blobserver/server.go; the body is new.
package handler

import (
	"fmt"
	"net/http"
)

// Func is an HTTP handler that reports failure as a return value instead of
// writing an error response itself.
type Func func(w http.ResponseWriter, r *http.Request) error

// Error is a Func error carrying the HTTP status it should produce. The
// zero value maps to 500.
type Error struct {
	status int
	msg    string
}

// Errorf builds an Error with a formatted message and no status set
// (defaults to 500 on write).
func Errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// ErrorStatus builds an Error carrying only a status code, no message body.
func ErrorStatus(status int) *Error {
	return &Error{status: status}
}

// Status sets e's HTTP status and returns e, for chaining off Errorf.
func (e *Error) Status(status int) *Error {
	e.status = status
	return e
}

// GetStatus returns e's HTTP status, defaulting to 500 if unset.
func (e *Error) GetStatus() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

func (e *Error) Error() string {
	if e.msg == "" {
		return http.StatusText(e.GetStatus())
	}
	return e.msg
}

// Wrap adapts f into an http.HandlerFunc: a returned *Error writes its
// status and message, any other returned error writes 500, and a nil
// return leaves the response to f itself (f may have already written a
// success body).
func Wrap(f Func) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		if herr, ok := err.(*Error); ok {
			http.Error(w, herr.Error(), herr.GetStatus())
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
