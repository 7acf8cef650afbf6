// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of an optional config file. Only a subset of
// settings make sense in a file; secrets stay in the environment.
type fileConfig struct {
	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		BaseURL      string `yaml:"base_url"`
		RateLimitRPM int    `yaml:"rate_limit_rpm"`
	} `yaml:"server"`
	Store struct {
		DataDir         string `yaml:"data_dir"`
		StemBitrateKbps int    `yaml:"stem_bitrate_kbps"`
	} `yaml:"store"`
	DB struct {
		Path string `yaml:"path"`
	} `yaml:"db"`
	Pipeline struct {
		MaxWorkers       int    `yaml:"max_workers"`
		ReconcileDelay   string `yaml:"reconcile_delay"`
		ReconcileStagger string `yaml:"reconcile_stagger"`
	} `yaml:"pipeline"`
	Health struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"health"`
	LogLevel string `yaml:"log_level"`
}

// applyFile overlays settings from a YAML file onto cfg. Unset fields keep
// their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.Server.Host != "" {
		cfg.Server.Host = fc.Server.Host
	}
	if fc.Server.Port != 0 {
		cfg.Server.Port = fc.Server.Port
	}
	if fc.Server.BaseURL != "" {
		cfg.Server.BaseURL = fc.Server.BaseURL
	}
	if fc.Server.RateLimitRPM != 0 {
		cfg.Server.RateLimitRPM = fc.Server.RateLimitRPM
	}
	if fc.Store.DataDir != "" {
		cfg.Store.DataDir = fc.Store.DataDir
	}
	if fc.Store.StemBitrateKbps != 0 {
		cfg.Store.StemBitrateKbps = fc.Store.StemBitrateKbps
	}
	if fc.DB.Path != "" {
		cfg.DB.Path = fc.DB.Path
	}
	if fc.Pipeline.MaxWorkers != 0 {
		cfg.Pipeline.MaxWorkers = int64(fc.Pipeline.MaxWorkers)
	}
	if fc.Pipeline.ReconcileDelay != "" {
		d, err := time.ParseDuration(fc.Pipeline.ReconcileDelay)
		if err != nil {
			return fmt.Errorf("pipeline.reconcile_delay: %w", err)
		}
		cfg.Pipeline.ReconcileDelay = d
	}
	if fc.Pipeline.ReconcileStagger != "" {
		d, err := time.ParseDuration(fc.Pipeline.ReconcileStagger)
		if err != nil {
			return fmt.Errorf("pipeline.reconcile_stagger: %w", err)
		}
		cfg.Pipeline.ReconcileStagger = d
	}
	if fc.Health.Schedule != "" {
		cfg.Health.Schedule = fc.Health.Schedule
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}
