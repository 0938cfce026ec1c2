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

// Package pageset implements the modified-page set (C2): a sparse,
// ordered map from block-region key to bitmap block, backed by a pool of
// reusable block buffers.
//
// The original source reuses a tree node's "left" child pointer as a
// freelist link once the node leaves the tree. This package keeps that
// node-pooling idea but models it as an explicit tagged node (inTree bool)
// rather than overloading a pointer field: a sum type should say whether a
// node is "in the tree" or "free", not leave one field doing double duty.
package pageset

import (
	"github.com/dbtools/pagetracker/track/bitmap"
)

type key struct {
	spaceID        uint32
	blockStartPage uint32
}

func (a key) less(b key) bool {
	if a.spaceID != b.spaceID {
		return a.spaceID < b.spaceID
	}
	return a.blockStartPage < b.blockStartPage
}

type node struct {
	inTree bool

	// valid while inTree
	k           key
	block       *bitmap.Block
	left, right *node

	// valid while free (inTree == false)
	next *node
}

// Set is the ordered (space_id, block_start_page) -> bitmap block map.
// It is not safe for concurrent use; callers serialize access (the
// follower holds the tracker mutex for the whole lifetime of a Set).
type Set struct {
	root     *node
	freeHead *node
	size     int
}

// New returns an empty modified-page set.
func New() *Set {
	return &Set{}
}

// SetBit records that (spaceID, pageNo) changed. It allocates or reuses a
// block buffer for the page's region on first touch.
func (s *Set) SetBit(spaceID, pageNo uint32) {
	blockStart := bitmap.BlockStartPage(pageNo)
	k := key{spaceID: spaceID, blockStartPage: blockStart}

	n := s.findOrInsert(k)
	n.block.SetBit(pageNo)
}

func (s *Set) findOrInsert(k key) *node {
	if s.root == nil {
		n := s.takeNode(k)
		s.root = n
		return n
	}

	cur := s.root
	for {
		switch {
		case k == cur.k:
			return cur
		case k.less(cur.k):
			if cur.left == nil {
				cur.left = s.takeNode(k)
				return cur.left
			}
			cur = cur.left
		default:
			if cur.right == nil {
				cur.right = s.takeNode(k)
				return cur.right
			}
			cur = cur.right
		}
	}
}

// takeNode pulls a node from the freelist (resetting it) or allocates a
// fresh one, then initializes its block's region header fields.
func (s *Set) takeNode(k key) *node {
	var n *node
	if s.freeHead != nil {
		n = s.freeHead
		s.freeHead = n.next
		n.next = nil
		for i := range n.block.Bitmap {
			n.block.Bitmap[i] = 0
		}
	} else {
		n = &node{block: &bitmap.Block{}}
	}

	n.inTree = true
	n.k = k
	n.left, n.right = nil, nil
	n.block.SpaceID = k.spaceID
	n.block.FirstPageID = k.blockStartPage
	n.block.IsLastBlock = false
	n.block.StartLSN, n.block.EndLSN = 0, 0

	s.size++
	return n
}

// Node is one entry produced by in-order traversal.
type Node struct {
	SpaceID        uint32
	BlockStartPage uint32
	Block          *bitmap.Block
}

// Nodes returns every entry in ascending (space_id, block_start_page)
// order, for flushing. The order is observable only through the order
// blocks land in the output file; readers never depend on it for
// correctness.
func (s *Set) Nodes() []Node {
	out := make([]Node, 0, s.size)
	var walk func(*node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, Node{SpaceID: n.k.spaceID, BlockStartPage: n.k.blockStartPage, Block: n.block})
		walk(n.right)
	}
	walk(s.root)
	return out
}

// Len reports how many regions currently hold at least one set bit.
func (s *Set) Len() int {
	return s.size
}

// Clear moves every node onto the freelist and resets the set to empty.
// It does not release the underlying block buffers.
func (s *Set) Clear() {
	var walk func(*node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		left, right := n.left, n.right
		n.inTree = false
		n.left, n.right = nil, nil
		n.next = s.freeHead
		s.freeHead = n
		walk(left)
		walk(right)
	}
	walk(s.root)
	s.root = nil
	s.size = 0
}
