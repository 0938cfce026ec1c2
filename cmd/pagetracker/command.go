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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dbtools/pagetracker/track/bitmapfile"
	"github.com/dbtools/pagetracker/track/config"
	"github.com/dbtools/pagetracker/track/external"
	"github.com/dbtools/pagetracker/track/logs"
	"github.com/dbtools/pagetracker/track/metrics"
	"github.com/dbtools/pagetracker/track/statedb"
	"github.com/dbtools/pagetracker/track/tracker"
)

const (
	cliName        = "github.com/dbtools/pagetracker"
	cliDescription = "A command line client for the changed-page bitmap tracker."
)

var (
	configPath  string
	bitmapDir   string
	maxFileSize int64
	logLevel    string
)

// NewExternalCollaborators is the extension point a concrete storage
// engine integration sets before calling Execute, since RedoReader,
// RecordParser, SpaceMetadata, and CheckpointClock all depend on a real
// redo log and space manager this module does not itself implement. The
// follow command fails with a clear error if it is left nil.
var NewExternalCollaborators func(cfg config.Config) (external.RedoReader, external.RecordParser, external.SpaceMetadata, external.CheckpointClock, error)

func NewRootCommand(use, short string) *cobra.Command {
	rc := &cobra.Command{
		Use:        use,
		Short:      short,
		SuggestFor: []string{use},
	}
	rc.PersistentFlags().StringVar(&configPath, "config", "", "path to a tracker config file (yaml/toml/json)")
	rc.PersistentFlags().StringVar(&bitmapDir, "bmp-dir", "", "directory holding bitmap files (overrides config)")
	rc.PersistentFlags().Int64Var(&maxFileSize, "max-file-size", 0, "bitmap file rotation size in bytes (overrides config)")
	rc.PersistentFlags().StringVar(&logLevel, "log-level", "", "log verbosity: trace|debug|info|warn|error|fatal (overrides config)")

	rc.AddCommand(NewFollowCommand())
	rc.AddCommand(NewStatusCommand())
	rc.AddCommand(NewPurgeCommand())
	rc.AddCommand(NewDumpCommand())
	rc.AddCommand(NewVersionCommand())
	return rc
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg = cfg.ApplyFlagOverrides(bitmapDir, maxFileSize, logLevel)
	if err := logs.InitLogs(cfg.LogDir, cfg.LogLevel); err != nil {
		return config.Config{}, errors.Wrap(err, "init logs")
	}
	return cfg, nil
}

func NewFollowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "run the background follow loop until interrupted",
		RunE:  runFollow,
	}
}

func runFollow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.FlushLogs()

	if NewExternalCollaborators == nil {
		return errors.New("no external collaborators wired: this binary must set cmd.NewExternalCollaborators to a concrete redo log / space manager adapter before calling Execute")
	}
	redo, parser, spaces, clock, err := NewExternalCollaborators(cfg)
	if err != nil {
		return errors.Wrap(err, "build external collaborators")
	}

	state, err := statedb.Open(cfg.StateDBPath)
	if err != nil {
		return errors.Wrap(err, "open state database")
	}
	defer state.Close()

	sink := &publishedLSN{}
	m := metrics.New()

	t := tracker.New(tracker.Options{
		Dir:           cfg.BitmapDir,
		MaxFileSize:   cfg.MaxFileSize,
		MinTrackedLSN: cfg.MinTrackedLSN,
		ChunkSize:     cfg.ChunkSize,
		Redo:          redo,
		Parser:        parser,
		Spaces:        spaces,
		Clock:         clock,
		Sink:          sink,
		State:         state,
		Metrics:       m,
	})
	if err := t.Init(); err != nil {
		return errors.Wrap(err, "tracker init")
	}
	defer t.Shutdown()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m.MustRegister(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Error("metrics server failed", err)
			}
		}()
		defer server.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logs.Info("tracker: following from lsn", t.TrackedLSN())
	return t.Run(ctx, time.Second)
}

// publishedLSN is the default PublishedStateSink for the CLI: it just
// remembers the last value so status-like introspection can read it back.
type publishedLSN struct {
	lsn uint64
}

func (p *publishedLSN) SetTrackedLSN(lsn uint64) { p.lsn = lsn }

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the latest bitmap file and recovery state",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.FlushLogs()

	files, err := bitmapfile.ListFiles(cfg.BitmapDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no bitmap files found")
		return nil
	}
	latest := files[len(files)-1]
	fmt.Printf("latest bitmap file: %s (seq %d, start_lsn %d)\n", latest.Name, latest.Seq, latest.StartLSN)
	fmt.Printf("total files: %d\n", len(files))

	if state, err := statedb.Open(cfg.StateDBPath); err == nil {
		defer state.Close()
		if seq, startLSN, endLSN, ok, _ := state.Load(); ok {
			fmt.Printf("cached state: seq=%d start_lsn=%d end_lsn=%d\n", seq, startLSN, endLSN)
		}
	}
	return nil
}

func NewPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <lsn>",
		Short: "delete bitmap files that can no longer contribute to a query at or after lsn",
		Args:  cobra.ExactArgs(1),
		RunE:  runPurge,
	}
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.FlushLogs()

	lsn, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse lsn")
	}

	t := tracker.New(tracker.Options{Dir: cfg.BitmapDir, MaxFileSize: cfg.MaxFileSize})
	return t.Purge(lsn)
}

func NewDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <lo> <hi>",
		Short: "print every changed page in [lo, hi)",
		Args:  cobra.ExactArgs(2),
		RunE:  runDump,
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logs.FlushLogs()

	lo, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse lo")
	}
	hi, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse hi")
	}

	it, err := bitmapfile.NewIterator(cfg.BitmapDir, lo, hi)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		adv, more, err := it.Next()
		if err != nil {
			return err
		}
		if !more {
			break
		}
		fmt.Printf("space=%d page=%d\n", adv.SpaceID, adv.PageNo)
	}
	return nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version info",
		Run:   versionCommandFunc,
	}
}

func versionCommandFunc(cmd *cobra.Command, args []string) {
	fmt.Println(logo())
	fmt.Printf("Project Name: %s\n", ProjectName)
	fmt.Printf("Version %d.%d.%d\n", Major, Minor, Patch)
	fmt.Printf("Git SHA: %s\n", GitSHA)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("Go OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
