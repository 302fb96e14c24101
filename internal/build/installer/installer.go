// Package installer assembles the aggregate script of one database from its
// extensions and executes it.
package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
	"github.com/rodriguezartav/xtuple/internal/build/ormbridge"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
	"github.com/rodriguezartav/xtuple/internal/datastore"
)

// Placement decides where generated ORM SQL lands in the aggregate.
type Placement string

const (
	// PlacementExtension appends each extension's ORM SQL right after its scripts.
	PlacementExtension Placement = "extension"
	// PlacementTrailing appends all ORM SQL after every extension's scripts.
	PlacementTrailing Placement = "trailing"
)

// ParsePlacement validates a placement name. Empty means PlacementExtension.
func ParsePlacement(s string) (Placement, error) {
	switch Placement(s) {
	case "", PlacementExtension:
		return PlacementExtension, nil
	case PlacementTrailing:
		return PlacementTrailing, nil
	}
	return "", fmt.Errorf("unknown orm placement %q (expected %q or %q)", s, PlacementExtension, PlacementTrailing)
}

// Resolver produces the concatenated scripts of one extension.
type Resolver interface {
	Resolve(ctx context.Context, extensionDir string) (string, int, error)
}

// Bridge produces the ORM SQL of one extension and grows the registry.
type Bridge interface {
	Apply(ctx context.Context, extensionDir string, reg registry.Registry) (ormbridge.Contribution, registry.Registry, error)
}

// Target describes one database build. It is passed by value; the grown
// registry comes back in the Result.
type Target struct {
	Credentials datastore.Credentials
	Extensions  []string
	Registry    registry.Registry
}

// Result describes an assembled, and possibly executed, database build.
type Result struct {
	Database   string
	Extensions int
	Scripts    int
	OrmDirs    int
	Registry   registry.Registry
	SQL        string
	Executed   bool
	Duration   time.Duration
}

// Options configures an Installer.
type Options struct {
	Placement   Placement
	ExecTimeout time.Duration
	Logger      *zap.Logger
}

// Installer builds one database.
type Installer struct {
	resolver  Resolver
	bridge    Bridge
	client    datastore.Client
	placement Placement
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates an installer. client may be nil when only Assemble is used.
func New(resolver Resolver, bridge Bridge, client datastore.Client, opts Options) *Installer {
	in := &Installer{
		resolver:  resolver,
		bridge:    bridge,
		client:    client,
		placement: opts.Placement,
		timeout:   opts.ExecTimeout,
		logger:    opts.Logger,
	}
	if in.placement == "" {
		in.placement = PlacementExtension
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in
}

// Assemble walks the target's extensions in order and returns the aggregate
// script without touching the database. The first failing extension aborts
// the walk.
func (in *Installer) Assemble(ctx context.Context, target Target) (Result, error) {
	res := Result{Database: target.Credentials.Database, Registry: target.Registry}
	if len(target.Extensions) == 0 {
		return res, &builderrors.ValidationError{Field: "extensions", Message: fmt.Sprintf("database %s has no extensions", res.Database)}
	}

	logger := in.logger.With(zap.String("database", res.Database))
	start := time.Now()

	var scripts, trailing strings.Builder
	reg := target.Registry
	for _, ext := range target.Extensions {
		blob, count, err := in.resolver.Resolve(ctx, ext)
		if err != nil {
			return res, fmt.Errorf("extension %s: %w", ext, err)
		}

		contrib, grown, err := in.bridge.Apply(ctx, ext, reg)
		if err != nil {
			return res, fmt.Errorf("extension %s: %w", ext, err)
		}
		reg = grown

		scripts.WriteString(blob)
		if in.placement == PlacementTrailing {
			trailing.WriteString(contrib.SQL)
		} else {
			scripts.WriteString(contrib.SQL)
		}

		res.Scripts += count
		if !contrib.Skipped {
			res.OrmDirs++
		}
		logger.Debug("extension assembled",
			zap.String("extension", ext),
			zap.Int("scripts", count),
			zap.Int("orm_bytes", len(contrib.SQL)),
		)
	}
	scripts.WriteString(trailing.String())

	res.Extensions = len(target.Extensions)
	res.Registry = reg
	res.SQL = scripts.String()
	res.Duration = time.Since(start)
	return res, nil
}

// Install assembles the target's aggregate script and executes it as one
// unit. Nothing is executed unless every extension assembled cleanly.
func (in *Installer) Install(ctx context.Context, target Target) (Result, error) {
	start := time.Now()
	res, err := in.Assemble(ctx, target)
	if err != nil {
		return res, err
	}
	if in.client == nil {
		return res, fmt.Errorf("installer has no data-store client")
	}

	logger := in.logger.With(zap.String("database", res.Database))
	logger.Info("executing aggregate script",
		zap.Int("extensions", res.Extensions),
		zap.Int("scripts", res.Scripts),
		zap.Int("bytes", len(res.SQL)),
	)

	execCtx := ctx
	if in.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	if err := in.client.Exec(execCtx, target.Credentials, res.SQL); err != nil {
		res.Duration = time.Since(start)
		return res, &builderrors.QueryError{Database: res.Database, Op: "aggregate script", Err: err}
	}

	res.Executed = true
	res.Duration = time.Since(start)
	logger.Info("database built", zap.Duration("duration", res.Duration))
	return res, nil
}
