// SPDX-License-Identifier: MIT

// Package health probes the service's dependencies and persists the results
// to the system_status table. Checks run on a cron schedule and on demand
// through the admin API.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/lyrics"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

// Component names persisted to system_status.
const (
	ComponentDatabase   = "database"
	ComponentFileSystem = "file_system"
	ComponentSource     = "source_api"
	ComponentModelHost  = "model_host"
	ComponentGenerative = "generative_api"
	ComponentQueue      = "processing_queue"
)

// Disk space thresholds for the artifact filesystem.
const (
	diskErrorBytes = 1 << 30 // 1 GiB
	diskWarnBytes  = 5 << 30 // 5 GiB
)

// queueWarnDepth is the number of non-terminal tracks that makes the queue
// check report a warning.
const queueWarnDepth = 10

// checkTimeout bounds each individual probe.
const checkTimeout = 15 * time.Second

// Check is one probe result.
type Check struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Details   string `json:"details"`
}

// Pinger probes an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the checker to everything it probes.
type Deps struct {
	DB         *db.DB
	Store      *store.Store
	Registry   *status.Registry
	Source     Pinger
	Models     Pinger
	Generative Pinger
}

// Checker runs the component probes.
type Checker struct {
	deps   Deps
	logger zerolog.Logger
}

func New(deps Deps) *Checker {
	return &Checker{deps: deps, logger: log.WithComponent("health")}
}

// RunAll executes every probe, persists each result with the given actor,
// and returns the results. Persistence failures are logged, not fatal: the
// checks themselves are the payload.
func (c *Checker) RunAll(ctx context.Context, checkedBy string) []Check {
	checks := []Check{
		c.checkDatabase(ctx),
		c.checkFileSystem(),
		c.checkPinger(ctx, ComponentSource, c.deps.Source),
		c.checkPinger(ctx, ComponentModelHost, c.deps.Models),
		c.checkGenerative(ctx),
		c.checkQueue(),
	}
	for _, check := range checks {
		if check.Status != db.StatusOK {
			c.logger.Warn().
				Str(log.FieldComponent, check.Component).
				Str("status", check.Status).
				Str("details", check.Details).
				Msg("health check degraded")
		}
		if c.deps.DB == nil {
			continue
		}
		if err := c.deps.DB.InsertSystemStatus(ctx, check.Component, check.Status, check.Details, checkedBy); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldComponent, check.Component).Msg("health result write failed")
		}
	}
	return checks
}

// Schedule registers RunAll on a cron spec and starts the scheduler. The
// returned cron is stopped by the caller on shutdown.
func (c *Checker) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		c.RunAll(runCtx, "scheduler")
	})
	if err != nil {
		return nil, fmt.Errorf("health schedule %q: %w", spec, err)
	}
	sched.Start()
	c.logger.Info().Str("schedule", spec).Msg("health checks scheduled")
	return sched, nil
}

func (c *Checker) checkDatabase(ctx context.Context) Check {
	if c.deps.DB == nil {
		return Check{ComponentDatabase, db.StatusError, "database not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := c.deps.DB.Ping(ctx); err != nil {
		return Check{ComponentDatabase, db.StatusError, fmt.Sprintf("database error: %v", err)}
	}
	return Check{ComponentDatabase, db.StatusOK, "database reachable"}
}

// checkFileSystem verifies the artifact root is writable and has headroom.
func (c *Checker) checkFileSystem() Check {
	if c.deps.Store == nil {
		return Check{ComponentFileSystem, db.StatusError, "artifact store not configured"}
	}
	root := c.deps.Store.Root()

	probe := filepath.Join(root, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{ComponentFileSystem, db.StatusError, fmt.Sprintf("artifact root not writable: %v", err)}
	}
	_ = os.Remove(probe)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		return Check{ComponentFileSystem, db.StatusError, fmt.Sprintf("statfs failed: %v", err)}
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	freeGiB := float64(free) / (1 << 30)
	switch {
	case free < diskErrorBytes:
		return Check{ComponentFileSystem, db.StatusError, fmt.Sprintf("critical low disk space: %.2f GiB free", freeGiB)}
	case free < diskWarnBytes:
		return Check{ComponentFileSystem, db.StatusWarning, fmt.Sprintf("low disk space: %.2f GiB free", freeGiB)}
	default:
		return Check{ComponentFileSystem, db.StatusOK, fmt.Sprintf("filesystem ok: %.2f GiB free", freeGiB)}
	}
}

// checkPinger probes an external API. A missing client is a warning, not an
// error: the service degrades but still serves the library.
func (c *Checker) checkPinger(ctx context.Context, component string, p Pinger) Check {
	if p == nil {
		return Check{component, db.StatusWarning, "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Check{component, db.StatusError, fmt.Sprintf("probe failed: %v", err)}
	}
	return Check{component, db.StatusOK, "reachable"}
}

// checkGenerative treats a deliberately unconfigured provider as a warning.
func (c *Checker) checkGenerative(ctx context.Context) Check {
	if c.deps.Generative == nil {
		return Check{ComponentGenerative, db.StatusWarning, "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	err := c.deps.Generative.Ping(ctx)
	switch {
	case err == nil:
		return Check{ComponentGenerative, db.StatusOK, "reachable"}
	case errors.Is(err, lyrics.ErrGenerativeDisabled):
		return Check{ComponentGenerative, db.StatusWarning, "not configured"}
	default:
		return Check{ComponentGenerative, db.StatusError, fmt.Sprintf("probe failed: %v", err)}
	}
}

// checkQueue reports how many tracks are in flight.
func (c *Checker) checkQueue() Check {
	if c.deps.Registry == nil {
		return Check{ComponentQueue, db.StatusWarning, "registry not configured"}
	}
	depth := c.deps.Registry.ActiveCount()
	details := fmt.Sprintf("%d tracks processing", depth)
	if depth >= queueWarnDepth {
		return Check{ComponentQueue, db.StatusWarning, details}
	}
	return Check{ComponentQueue, db.StatusOK, details}
}
