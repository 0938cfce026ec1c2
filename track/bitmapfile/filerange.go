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

package bitmapfile

import (
	"github.com/pkg/errors"

	"github.com/dbtools/pagetracker/track/trackerr"
)

// ResolveRange implements the two-pass directory scan (C6): given
// [loLSN, hiLSN), it returns the ordered slice of files whose sequence
// numbers span the range, with nil entries at gaps (missing intermediate
// sequence numbers). A nil slice with a nil error means no file covers the
// range.
func ResolveRange(dir string, loLSN, hiLSN uint64) ([]*FileInfo, error) {
	first, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	minSeq, maxSeq, ok := boundingSeqs(first, loLSN, hiLSN)
	if !ok {
		return nil, nil
	}

	second, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	if !sameWithinRange(first, second, minSeq, maxSeq) {
		return nil, errors.Wrap(trackerr.ErrDirectoryInconsistent, "bitmap directory changed between scan passes")
	}

	slots := make([]*FileInfo, maxSeq-minSeq+1)
	for i := range second {
		f := second[i]
		if f.Seq < minSeq || f.Seq > maxSeq {
			continue
		}
		slots[f.Seq-minSeq] = &f
	}

	if slots[0] == nil || slots[0].Seq != minSeq {
		return nil, errors.Wrap(trackerr.ErrDirectoryInconsistent, "bitmap range resolver: slot 0 not filled with minSeq")
	}
	var lastFilled *FileInfo
	for _, s := range slots {
		if s == nil {
			continue
		}
		if lastFilled != nil {
			if s.Seq <= lastFilled.Seq || s.StartLSN < lastFilled.StartLSN {
				return nil, errors.Wrap(trackerr.ErrDirectoryInconsistent, "bitmap range resolver: sequence/LSN ordering violated")
			}
		}
		lastFilled = s
	}

	return slots, nil
}

// boundingSeqs finds the minimum and maximum sequence numbers whose files
// cover any part of [loLSN, hiLSN), per the original source's two
// alternative rules for the lower bound: prefer the file whose start_lsn
// is the largest one still below loLSN (it may straddle the boundary);
// fall back to the smallest start_lsn at or above loLSN when no such file
// exists.
func boundingSeqs(files []FileInfo, loLSN, hiLSN uint64) (minSeq, maxSeq uint64, ok bool) {
	var haveBoundary, haveAtOrAbove, haveBelowHi bool
	var boundarySeq, atOrAboveSeq uint64
	var boundaryLSN, atOrAboveLSN uint64

	for _, f := range files {
		if f.StartLSN < loLSN {
			if !haveBoundary || f.Seq > boundarySeq {
				haveBoundary = true
				boundarySeq = f.Seq
				boundaryLSN = f.StartLSN
			}
		} else {
			if !haveAtOrAbove || f.Seq < atOrAboveSeq {
				haveAtOrAbove = true
				atOrAboveSeq = f.Seq
				atOrAboveLSN = f.StartLSN
			}
		}
		if f.StartLSN < hiLSN {
			if !haveBelowHi || f.Seq > maxSeq {
				haveBelowHi = true
				maxSeq = f.Seq
			}
		}
	}
	_ = boundaryLSN
	_ = atOrAboveLSN

	switch {
	case haveBoundary:
		minSeq = boundarySeq
	case haveAtOrAbove:
		minSeq = atOrAboveSeq
	default:
		return 0, 0, false
	}

	if !haveBelowHi || maxSeq < minSeq {
		return 0, 0, false
	}
	return minSeq, maxSeq, true
}

func sameWithinRange(a, b []FileInfo, minSeq, maxSeq uint64) bool {
	count := func(files []FileInfo) map[uint64]FileInfo {
		m := make(map[uint64]FileInfo)
		for _, f := range files {
			if f.Seq >= minSeq && f.Seq <= maxSeq {
				m[f.Seq] = f
			}
		}
		return m
	}
	ma, mb := count(a), count(b)
	if len(ma) != len(mb) {
		return false
	}
	for seq, fa := range ma {
		fb, present := mb[seq]
		if !present || fb.StartLSN != fa.StartLSN || fb.Name != fa.Name {
			return false
		}
	}
	return true
}
