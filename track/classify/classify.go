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

// Package classify implements the redo record classifier (C1): given a
// parsed record, decide whether it implies a page modification and, for
// the index-load record, expand it into every page of its tablespace.
package classify

import (
	"github.com/dbtools/pagetracker/track/external"
)

// Outcome tags what Classify decided about one record.
type Outcome int

const (
	// Incomplete means the underlying parser needs more bytes.
	Incomplete Outcome = iota
	// NoPage means the record is bookkeeping, or otherwise carries no
	// page modification.
	NoPage
	// WithPage means Space/Page/LengthConsumed are populated.
	WithPage
	// IndexLoadExpand means every page in Space up to PageCount changed.
	IndexLoadExpand
)

// Result is the classifier's decision for one record.
type Result struct {
	Outcome        Outcome
	Space          uint32
	Page           uint32
	PageCount      uint32
	LengthConsumed int
}

// Classify asks parser to decode the next record in buf and applies the
// bookkeeping-type exclusion and index-load expansion rules. A record
// whose declared length overruns buf is reported as Incomplete, never as
// an error: true corruption is caught upstream at log-block checksum
// time, not here.
func Classify(parser external.RecordParser, spaces external.SpaceMetadata, buf []byte) (Result, error) {
	rec, status := parser.ParseLogRecord(buf)
	if status == external.StatusIncomplete {
		return Result{Outcome: Incomplete}, nil
	}

	if external.IsBookkeeping(rec.Type) || !rec.HasPage {
		return Result{Outcome: NoPage, LengthConsumed: rec.LengthConsumed}, nil
	}

	if external.IsIndexLoad(rec.Type) {
		count, err := spaces.SpacePageCount(rec.SpaceID)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Outcome:        IndexLoadExpand,
			Space:          rec.SpaceID,
			PageCount:      count,
			LengthConsumed: rec.LengthConsumed,
		}, nil
	}

	return Result{
		Outcome:        WithPage,
		Space:          rec.SpaceID,
		Page:           rec.PageNo,
		LengthConsumed: rec.LengthConsumed,
	}, nil
}
