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

package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := &Block{
		IsLastBlock: true,
		StartLSN:    8192,
		EndLSN:      8704,
		SpaceID:     7,
		FirstPageID: 0,
	}
	b.SetBit(3)

	buf := b.Encode()
	require.Len(t, buf, BlockSize)

	got, ok := Decode(buf)
	require.True(t, ok)
	require.Equal(t, b.IsLastBlock, got.IsLastBlock)
	require.Equal(t, b.StartLSN, got.StartLSN)
	require.Equal(t, b.EndLSN, got.EndLSN)
	require.Equal(t, b.SpaceID, got.SpaceID)
	require.Equal(t, b.FirstPageID, got.FirstPageID)
	require.True(t, got.BitSet(3))
	require.False(t, got.BitSet(4))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	b := &Block{StartLSN: 1, EndLSN: 2}
	b.SetBit(10)
	buf := b.Encode()

	buf[100] ^= 0xFF

	_, ok := Decode(buf)
	require.False(t, ok)
}

func TestSetBitUniformFormula(t *testing.T) {
	// IDsPerBlock - 1 and IDsPerBlock must land in different block
	// regions even though both are near a region boundary.
	require.Equal(t, uint32(0), BlockStartPage(IDsPerBlock-1))
	require.Equal(t, uint32(IDsPerBlock), BlockStartPage(IDsPerBlock))

	b := &Block{FirstPageID: 0}
	b.SetBit(IDsPerBlock - 1)
	require.True(t, b.BitSet(IDsPerBlock-1))

	b2 := &Block{FirstPageID: IDsPerBlock}
	b2.SetBit(IDsPerBlock)
	require.True(t, b2.BitSet(IDsPerBlock))
}

func TestChecksumDeterministic(t *testing.T) {
	b := &Block{StartLSN: 42}
	buf1 := b.Encode()
	buf2 := b.Encode()
	require.Equal(t, buf1, buf2)
}
