// Copyright 2019 The zbdba Authors
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

// Package trackerr defines the stable error taxonomy shared by every
// changed-page tracking component. Callers match kinds with errors.Is;
// call-site context is attached with github.com/pkg/errors.
package trackerr

import "errors"

var (
	// ErrIncompleteRecord means the parse buffer ends mid-record. Internal
	// to the follower loop: the buffer is shifted and parsing retried once
	// more bytes arrive.
	ErrIncompleteRecord = errors.New("incomplete redo record")

	// ErrLogBlockChecksum means a redo log block failed its header
	// checksum. Fatal: it reflects corruption of the log itself.
	ErrLogBlockChecksum = errors.New("redo log block checksum mismatch")

	// ErrBitmapBlockChecksum means a bitmap block failed its checksum.
	// Non-fatal at read time (the block is skipped with a warning); used
	// during recovery to find the last durable block.
	ErrBitmapBlockChecksum = errors.New("bitmap block checksum mismatch")

	// ErrBitmapWriteError means a write or fsync to a bitmap file failed.
	// Tracking is disabled; files flushed before the failure remain valid.
	ErrBitmapWriteError = errors.New("bitmap file write error")

	// ErrBitmapReadError is surfaced to iterator callers on a read failure.
	ErrBitmapReadError = errors.New("bitmap file read error")

	// ErrDirectoryInconsistent means a directory listing changed
	// incompatibly between the two passes of the file range resolver.
	ErrDirectoryInconsistent = errors.New("bitmap directory listing changed between passes")

	// ErrGapTooLarge means the interval between the last durable LSN and
	// the tracking start point exceeds redo log capacity; it cannot be
	// retracked and is skipped.
	ErrGapTooLarge = errors.New("recovery gap exceeds redo log capacity")

	// ErrGapRecoverable marks a gap that is retrackable; a follow error
	// while closing it is fatal to startup.
	ErrGapRecoverable = errors.New("recovery gap is recoverable")
)
