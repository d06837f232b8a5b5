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

// Package errkind collects the error taxonomy shared across the storage
// pipeline: sentinel errors and small typed errors, not a class hierarchy,
// composed with errors.Is / errors.As the way blobclient.ErrBlobNotFound and
// persistedretry.ErrManagerClosed are used in the teacher.
package errkind

import (
	"errors"
	"fmt"

	"github.com/cumulus-storage/cumulus/core"
)

// HashError occurs when a freshly computed digest does not match an
// expected one. Local policy on HashError is always: purge the local copy,
// flip the owning Fragment's is_clean to false, propagate.
type HashError struct {
	Expected core.Digest
	Actual   core.Digest
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// ReconstructionError occurs when the erasure decoder reports insufficient
// surviving fragments to recover the requested payload.
type ReconstructionError struct {
	Need int
	Have int
}

func (e *ReconstructionError) Error() string {
	return fmt.Sprintf("reconstruction failed: need %d fragments, have %d", e.Need, e.Have)
}

// ErrNoRemoteStorageLocationFound is returned by the placement planner when
// every hub, including the relaxed candidate set, is excluded or out of
// capacity.
var ErrNoRemoteStorageLocationFound = errors.New("no remote storage location found")

// RemoteStorageKind enumerates the ways a blob-client call can fail at the
// remote.
type RemoteStorageKind int

const (
	// InsufficientStorageSpace means the hub refused a PUT for capacity
	// reasons.
	InsufficientStorageSpace RemoteStorageKind = iota
	// UploadFailed means a PUT failed for any other reason.
	UploadFailed
	// DownloadFailed means a GET failed for any reason other than not-found.
	DownloadFailed
	// DeleteFailed means a DELETE failed.
	DeleteFailed
)

func (k RemoteStorageKind) String() string {
	switch k {
	case InsufficientStorageSpace:
		return "InsufficientStorageSpace"
	case UploadFailed:
		return "UploadFailed"
	case DownloadFailed:
		return "DownloadFailed"
	case DeleteFailed:
		return "DeleteFailed"
	default:
		return "RemoteStorageError"
	}
}

// RemoteStorageError wraps any blob-client failure that is not a timeout or
// a not-found. The uploader treats every kind as "try another hub"; the
// reader treats every kind as "mark dirty, try the next fragment".
type RemoteStorageError struct {
	Kind  RemoteStorageKind
	Cause error
	// AvailableBytes carries the hub's reported post-call capacity, when the
	// response included one (present on capacity refusals).
	AvailableBytes int64
	HasAvailable   bool
}

func (e *RemoteStorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *RemoteStorageError) Unwrap() error {
	return e.Cause
}

// ErrConnectionTimeout is returned for a blob-client call that timed out or
// was cancelled. Handled the same as the corresponding RemoteStorageError
// sub-kind for the operation in flight.
var ErrConnectionTimeout = errors.New("connection timeout")

// ErrNotFound is returned by a blob-client get_content/get_hash call when
// the hub does not have the requested fragment.
var ErrNotFound = errors.New("not found")

// ErrSessionActive is the programmer-error kind raised when a File or
// Fragment session is opened while another session on the same identity is
// already active (self-nesting / re-entry).
var ErrSessionActive = errors.New("session already active")

// ErrObjectDoesNotExist is surfaced to clients when a lookup or a second
// remove() finds no matching catalog record.
var ErrObjectDoesNotExist = errors.New("object does not exist")

// ErrMultipleObjectsFound is surfaced to clients when a lookup that expects
// a unique record matches more than one.
var ErrMultipleObjectsFound = errors.New("multiple objects found")

// IsRemoteStorageOrTimeout reports whether err is a RemoteStorageError or
// ErrConnectionTimeout, the two kinds that the write/read paths treat as
// "try another hub" / "mark dirty and continue".
func IsRemoteStorageOrTimeout(err error) bool {
	if errors.Is(err, ErrConnectionTimeout) {
		return true
	}
	var rse *RemoteStorageError
	return errors.As(err, &rse)
}
