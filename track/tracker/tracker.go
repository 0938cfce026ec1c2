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

// Package tracker implements lifecycle and recovery (C8): it owns the
// bitmap file writer, the modified-page set, and the single mutex that
// serializes every mutation of tracker state, and it decides at startup
// whether the existing bitmap files can be resumed or must be restarted.
package tracker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dbtools/pagetracker/track/bitmap"
	"github.com/dbtools/pagetracker/track/bitmapfile"
	"github.com/dbtools/pagetracker/track/external"
	"github.com/dbtools/pagetracker/track/follower"
	"github.com/dbtools/pagetracker/track/logs"
	"github.com/dbtools/pagetracker/track/metrics"
	"github.com/dbtools/pagetracker/track/pageset"
	"github.com/dbtools/pagetracker/track/trackerr"
)

// LSNMax is the purge argument that means "delete every bitmap file and
// start over", mirroring a purge-to-infinity request.
const LSNMax = ^uint64(0)

// StateStore is the recovery-state cache the tracker saves its progress
// to. Init always runs the directory scan; it reads the cache only to log
// whether it agrees with that scan. track/statedb.Store implements it.
type StateStore interface {
	Load() (seq, startLSN, endLSN uint64, ok bool, err error)
	Save(seq, startLSN, endLSN uint64) error
}

// Options configures a new Tracker. Redo, Parser, Spaces, Clock, and Sink
// are the external collaborators the follower needs on every cycle; State
// is optional.
type Options struct {
	Dir           string
	MaxFileSize   int64
	MinTrackedLSN uint64
	ChunkSize     int64

	Redo    external.RedoReader
	Parser  external.RecordParser
	Spaces  external.SpaceMetadata
	Clock   external.CheckpointClock
	Sink    external.PublishedStateSink
	State   StateStore
	Metrics *metrics.Metrics
}

// Tracker holds everything the mutex in §5 guards: the open output file,
// the modified-page set, and the current [start_lsn, end_lsn) window.
type Tracker struct {
	mu sync.Mutex

	dir           string
	maxFileSize   int64
	minTrackedLSN uint64
	chunkSize     int64

	redo    external.RedoReader
	parser  external.RecordParser
	spaces  external.SpaceMetadata
	clock   external.CheckpointClock
	sink    external.PublishedStateSink
	state   StateStore
	metrics *metrics.Metrics

	writer   *bitmapfile.Writer
	set      *pageset.Set
	startLSN uint64
	endLSN   uint64
	enabled  bool
}

// New returns a Tracker with no file open yet; call Init before Run.
func New(opts Options) *Tracker {
	return &Tracker{
		dir:           opts.Dir,
		maxFileSize:   opts.MaxFileSize,
		minTrackedLSN: opts.MinTrackedLSN,
		chunkSize:     opts.ChunkSize,
		redo:          opts.Redo,
		parser:        opts.Parser,
		spaces:        opts.Spaces,
		clock:         opts.Clock,
		sink:          opts.Sink,
		state:         opts.State,
		metrics:       opts.Metrics,
		set:           pageset.New(),
	}
}

// Init runs the dynamic-initialization procedure: find the latest bitmap
// file, truncate any torn tail, and decide whether tracking resumes from
// the last fully-flushed batch or restarts at the current checkpoint.
func (t *Tracker) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	checkpoint, err := t.clock.LastCheckpointLSN()
	if err != nil {
		return errors.Wrap(err, "read checkpoint lsn at init")
	}
	trackingStart := checkpoint
	if t.minTrackedLSN > trackingStart {
		trackingStart = t.minTrackedLSN
	}

	files, err := bitmapfile.ListFiles(t.dir)
	if err != nil {
		return errors.Wrap(err, "list bitmap directory at init")
	}

	latest, ok, err := latestNonEmpty(t.dir, files)
	if err != nil {
		return errors.Wrap(err, "inspect latest bitmap file")
	}
	if !ok {
		return t.startFresh(1, trackingStart)
	}

	if t.state != nil {
		if seq, startLSN, endLSN, cok, serr := t.state.Load(); serr == nil && cok {
			if seq == latest.Seq && startLSN == latest.StartLSN {
				logs.Debug("tracker: state cache agrees with directory scan", seq, startLSN, endLSN)
			} else {
				logs.Warn("tracker: state cache disagrees with directory scan, directory wins", seq, latest.Seq)
			}
		}
	}

	lastTrackedLSN, truncatedSize, err := scanAndTruncate(filepath.Join(t.dir, latest.Name))
	if err != nil {
		return errors.Wrap(err, "scan latest bitmap file")
	}

	if lastTrackedLSN == 0 {
		if err := os.Remove(filepath.Join(t.dir, latest.Name)); err != nil {
			return errors.Wrap(err, "discard unusable bitmap file")
		}
		return t.startFresh(latest.Seq, trackingStart)
	}

	if lastTrackedLSN >= trackingStart {
		if lastTrackedLSN > trackingStart {
			logs.Warn("tracker: bitmap ahead of checkpoint at startup", lastTrackedLSN, trackingStart)
		}
		w, err := bitmapfile.OpenForAppend(t.dir, latest.Seq, latest.StartLSN, t.maxFileSize, truncatedSize)
		if err != nil {
			return errors.Wrap(err, "reopen latest bitmap file for append")
		}
		w.SetMetrics(t.metrics)
		t.writer = w
		t.startLSN, t.endLSN = lastTrackedLSN, lastTrackedLSN
		t.enabled = true
		t.publishLocked()
		return nil
	}

	gap := trackingStart - lastTrackedLSN
	capacity, err := t.clock.LogGroupCapacity()
	if err != nil {
		return errors.Wrap(err, "read log group capacity at init")
	}

	if gap > capacity {
		logs.Warn("tracker: startup gap exceeds log capacity, restarting", trackerr.ErrGapTooLarge, lastTrackedLSN, trackingStart)
		return t.startFresh(latest.Seq+1, trackingStart)
	}

	logs.Info("tracker: startup gap is recoverable, closing it before resuming", trackerr.ErrGapRecoverable, lastTrackedLSN, trackingStart)
	w := bitmapfile.NewWriter(t.dir, latest.Seq+1, t.maxFileSize)
	w.SetMetrics(t.metrics)
	if err := w.Open(lastTrackedLSN); err != nil {
		return errors.Wrap(err, "open bitmap file to close startup gap")
	}
	t.writer = w
	t.startLSN, t.endLSN = lastTrackedLSN, lastTrackedLSN
	t.enabled = true

	if _, err := t.doFollow(context.Background()); err != nil {
		return errors.Wrap(err, "close startup gap")
	}
	return nil
}

func (t *Tracker) startFresh(seq, startLSN uint64) error {
	w := bitmapfile.NewWriter(t.dir, seq, t.maxFileSize)
	w.SetMetrics(t.metrics)
	if err := w.Open(startLSN); err != nil {
		return errors.Wrap(err, "open bitmap file")
	}
	t.writer = w
	t.startLSN, t.endLSN = startLSN, startLSN
	t.enabled = true
	t.publishLocked()
	return nil
}

func (t *Tracker) publishLocked() {
	t.sink.SetTrackedLSN(t.endLSN)
	if t.metrics != nil {
		t.metrics.TrackedLSN.Set(float64(t.endLSN))
	}
	if t.state != nil {
		if err := t.state.Save(t.writer.Seq(), t.startLSN, t.endLSN); err != nil {
			logs.Warn("tracker: failed to persist recovery state", err)
		}
	}
}

// latestNonEmpty returns the highest-sequence file with nonzero size,
// skipping any zero-length remnant of a crash before the first block was
// written (those are indistinguishable from "no file at all").
func latestNonEmpty(dir string, files []bitmapfile.FileInfo) (bitmapfile.FileInfo, bool, error) {
	for i := len(files) - 1; i >= 0; i-- {
		info, err := os.Stat(filepath.Join(dir, files[i].Name))
		if err != nil {
			return bitmapfile.FileInfo{}, false, errors.Wrap(err, "stat bitmap file")
		}
		if info.Size() > 0 {
			return files[i], true, nil
		}
	}
	return bitmapfile.FileInfo{}, false, nil
}

// scanAndTruncate drops a torn trailing partial block, then scans
// backwards for the last block that both verifies its checksum and is
// marked IsLastBlock (the end of a cleanly flushed batch), truncating the
// file to end right after it. It returns that block's EndLSN, or 0 if no
// such block exists (the file holds no complete batch at all).
func scanAndTruncate(path string) (lastTrackedLSN uint64, truncatedSize int64, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return 0, 0, errors.Wrap(err, "open bitmap file for recovery scan")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, errors.Wrap(err, "stat bitmap file for recovery scan")
	}

	numBlocks := info.Size() / bitmap.BlockSize
	if rem := info.Size() % bitmap.BlockSize; rem != 0 {
		logs.Warn("tracker: truncating torn trailing block", path, rem)
	}

	buf := make([]byte, bitmap.BlockSize)
	for idx := numBlocks - 1; idx >= 0; idx-- {
		if _, err := f.ReadAt(buf, idx*bitmap.BlockSize); err != nil {
			return 0, 0, errors.Wrap(err, "read block during recovery scan")
		}
		block, valid := bitmap.Decode(buf)
		if !valid || !block.IsLastBlock {
			continue
		}
		size := (idx + 1) * bitmap.BlockSize
		if err := f.Truncate(size); err != nil {
			return 0, 0, errors.Wrap(err, "truncate bitmap file after recovery scan")
		}
		return block.EndLSN, size, nil
	}

	if err := f.Truncate(0); err != nil {
		return 0, 0, errors.Wrap(err, "truncate unusable bitmap file")
	}
	return 0, 0, nil
}

// doFollow runs one follow cycle with the mutex already held.
func (t *Tracker) doFollow(ctx context.Context) (uint64, error) {
	if !t.enabled {
		return t.endLSN, nil
	}

	d := follower.Deps{
		Redo:      t.redo,
		Parser:    t.parser,
		Spaces:    t.spaces,
		Clock:     t.clock,
		Sink:      t.sink,
		Writer:    t.writer,
		Set:       t.set,
		ChunkSize: t.chunkSize,
		Metrics:   t.metrics,
	}

	cycleStart := time.Now()
	newLSN, err := follower.Follow(ctx, d, t.startLSN)
	if t.metrics != nil {
		t.metrics.FollowCycleDuration.Observe(time.Since(cycleStart).Seconds())
	}
	if err != nil {
		if errors.Is(err, trackerr.ErrBitmapWriteError) {
			t.enabled = false
			logs.Error("tracker: disabling tracking after bitmap write error", err)
		}
		return t.startLSN, err
	}

	t.startLSN, t.endLSN = newLSN, newLSN
	if t.state != nil {
		if serr := t.state.Save(t.writer.Seq(), t.startLSN, t.endLSN); serr != nil {
			logs.Warn("tracker: failed to persist recovery state", serr)
		}
	}
	return newLSN, nil
}

// FollowOnce runs a single follow cycle under the tracker mutex.
func (t *Tracker) FollowOnce(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doFollow(ctx)
}

// Run calls FollowOnce on a fixed interval until ctx is cancelled. It
// returns a follow cycle's error instead of retrying when that cycle hit a
// redo log block checksum mismatch or disabled tracking after a bitmap
// write error.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := t.FollowOnce(ctx); err != nil {
				logs.Error("tracker: follow cycle failed", err)
				if !t.Enabled() || errors.Is(err, trackerr.ErrLogBlockChecksum) {
					return err
				}
			}
		}
	}
}

// Enabled reports whether tracking is still active (false after a
// BitmapWriteError has disabled it).
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// TrackedLSN reports the most recently published end_lsn.
func (t *Tracker) TrackedLSN() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endLSN
}

// Shutdown closes the open output file. It does not flush a partial
// batch: the modified-page set is only ever durable once Append succeeds.
func (t *Tracker) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return nil
	}
	return t.writer.Close()
}

// Purge deletes bitmap files that can no longer contribute to any range
// query at or after lsn: a file is obsolete once the next file's
// start_lsn already covers lsn, since nothing before that boundary can
// ever be asked for again. lsn == 0 or lsn == LSNMax deletes every file,
// including the one currently open, and restarts the sequence at 1 with
// a fresh file named start_lsn=0, regardless of how far tracking has
// actually progressed.
func (t *Tracker) Purge(lsn uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	files, err := bitmapfile.ListFiles(t.dir)
	if err != nil {
		return errors.Wrap(err, "list bitmap directory for purge")
	}
	if len(files) == 0 {
		return nil
	}

	if lsn == 0 || lsn == LSNMax {
		if t.writer != nil {
			if err := t.writer.Close(); err != nil {
				logs.Warn("tracker: error closing bitmap file during purge", err)
			}
		}
		for _, f := range files {
			if err := os.Remove(filepath.Join(t.dir, f.Name)); err != nil {
				return errors.Wrap(err, "purge bitmap file")
			}
			if t.metrics != nil {
				t.metrics.PurgedFiles.Inc()
			}
		}
		w := bitmapfile.NewWriter(t.dir, 1, t.maxFileSize)
		w.SetMetrics(t.metrics)
		if err := w.Open(0); err != nil {
			return errors.Wrap(err, "reopen bitmap file after full purge")
		}
		t.writer = w
		logs.Info("tracker: purged all bitmap files", lsn)
		return nil
	}

	openSeq := uint64(0)
	if t.writer != nil {
		openSeq = t.writer.Seq()
	}

	for i := 0; i < len(files)-1; i++ {
		if files[i+1].StartLSN > lsn {
			continue
		}
		if files[i].Seq == openSeq {
			continue
		}
		if err := os.Remove(filepath.Join(t.dir, files[i].Name)); err != nil {
			return errors.Wrap(err, "purge bitmap file")
		}
		if t.metrics != nil {
			t.metrics.PurgedFiles.Inc()
		}
		logs.Info("tracker: purged bitmap file", files[i].Name)
	}
	return nil
}
