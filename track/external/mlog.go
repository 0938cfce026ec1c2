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

package external

// Redo record type tags, carried over from the MySQL/InnoDB mtr0types.h
// taxonomy so that a RecordParser implementation and the classifier agree
// on which types are bookkeeping-only. Only the tags the classifier needs
// to recognize are named; a concrete RecordParser may use the full
// taxonomy internally.
const (
	MlogSingleRecFlag = 128

	MlogRecInsert    = 9  // ordinary record insert, carries a page
	MlogMultiRecEnd  = 31 // ends a sequence of records written by one mtr
	MlogDummyRecord  = 32 // pads a log block to full
	MlogCheckpoint   = 56 // marks that buffered log was flushed at a checkpoint
	MlogTruncate     = 60 // table-truncate marker
	MlogLSN          = 28 // pseudo-record used only for LSN debugging builds
	MlogIndexLoad    = 61 // notifies that an index tree was bulk-loaded
	MlogFileName     = 55
	MlogFileCreate   = 33
	MlogFileCreate2  = 47
	MlogFileRename   = 34
	MlogFileRename2  = 54
	MlogFileDelete   = 35
)

// bookkeeping is the set of types that never imply a page modification:
// multi-record terminators, padding, checkpoint markers, truncate markers,
// and the LSN-debugging pseudo-record.
var bookkeeping = map[byte]bool{
	MlogMultiRecEnd: true,
	MlogDummyRecord: true,
	MlogCheckpoint:  true,
	MlogTruncate:    true,
	MlogLSN:         true,
}

// IsBookkeeping reports whether a record type can never imply a page
// modification, regardless of what RecordParser.HasPage says — used as a
// defensive cross-check by the classifier.
func IsBookkeeping(recType byte) bool {
	base := recType &^ MlogSingleRecFlag
	return bookkeeping[base]
}

// IsIndexLoad reports whether recType is the index-load record, which
// implies every page in its tablespace changed.
func IsIndexLoad(recType byte) bool {
	return recType&^MlogSingleRecFlag == MlogIndexLoad
}
