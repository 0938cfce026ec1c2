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

// Package external declares the contracts the tracking core consumes from
// the surrounding storage engine. None of these are implemented by this
// module's core packages; production callers supply concrete adapters over
// their own redo log, space manager, and checkpoint machinery.
package external

import "context"

// ParseStatus is the outcome of a single ParseLogRecord call.
type ParseStatus int

const (
	// StatusIncomplete means the buffer ends mid-record; the caller must
	// supply more bytes and retry, never treat this as corruption.
	StatusIncomplete ParseStatus = iota
	// StatusOK means ParsedRecord is populated and valid.
	StatusOK
)

// ParsedRecord is one decoded redo record.
type ParsedRecord struct {
	Type            byte
	SpaceID         uint32
	PageNo          uint32
	HasPage         bool
	LengthConsumed  int
}

// RedoReader fills buf with raw log blocks covering [startLSN, endLSN) and
// releases any internal lock it held before returning.
type RedoReader interface {
	ReadLogSegment(ctx context.Context, buf []byte, startLSN, endLSN uint64) (int, error)
}

// RecordParser identifies the next record in buf, as described in the
// classifier's contract.
type RecordParser interface {
	ParseLogRecord(buf []byte) (ParsedRecord, ParseStatus)
}

// SpaceMetadata answers how many pages a tablespace currently has, used to
// expand an index-load record into a full-tablespace modification.
type SpaceMetadata interface {
	SpacePageCount(spaceID uint32) (uint32, error)
}

// CheckpointClock exposes the redo log's current checkpoint LSN and its
// total capacity, used to decide whether a startup gap is retrackable.
type CheckpointClock interface {
	LastCheckpointLSN() (uint64, error)
	LogGroupCapacity() (uint64, error)
}

// PublishedStateSink receives the tracker's durable progress so that
// incremental-backup tools know which LSN is safe to resume from.
type PublishedStateSink interface {
	SetTrackedLSN(lsn uint64)
}
