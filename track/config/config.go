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

// Package config loads tracker configuration from a file plus environment
// overrides via github.com/spf13/viper, generalizing the reference
// project's package-level cobra-flag variables into one bound struct.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds every tunable the tracker and its CLI need.
type Config struct {
	BitmapDir     string `mapstructure:"bmp_dir"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
	ChunkSize     int64  `mapstructure:"chunk_size"`
	MinTrackedLSN uint64 `mapstructure:"min_tracked_lsn"`

	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	StateDBPath string `mapstructure:"state_db_path"`
}

func defaults() Config {
	return Config{
		BitmapDir:   ".",
		MaxFileSize: 100 << 20,
		ChunkSize:   4 * 16384,
		LogDir:      "/tmp",
		LogLevel:    "info",
		StateDBPath: "tracker_state.db",
	}
}

// Load reads configuration from path (if non-empty) plus PAGETRACKER_*
// environment variables, layered over built-in defaults. An empty path
// is not an error: env vars and defaults alone are a valid configuration.
func Load(path string) (Config, error) {
	v := viper.New()
	d := defaults()
	v.SetDefault("bmp_dir", d.BitmapDir)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("min_tracked_lsn", d.MinTrackedLSN)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("state_db_path", d.StateDBPath)

	v.SetEnvPrefix("pagetracker")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

// ApplyFlagOverrides lets cobra flag values win over the file/env layer
// when the caller explicitly set them, matching the reference project's
// pattern of flags feeding package-level config after parsing.
func (c Config) ApplyFlagOverrides(bitmapDir string, maxFileSize int64, logLevel string) Config {
	if bitmapDir != "" {
		c.BitmapDir = bitmapDir
	}
	if maxFileSize != 0 {
		c.MaxFileSize = maxFileSize
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	return c
}
