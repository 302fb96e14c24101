// Package build runs a whole build: an optional reset of a single database
// from a backup, followed by concurrent builds of every requested database.
//
// A run moves through Idle → Resetting → Building → Done. Resetting is
// entered at most once per run and only for a single-database run that asks
// for it; the Spec handed to Building always has the reset request cleared.
package build

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
	"github.com/rodriguezartav/xtuple/internal/build/installer"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
	"github.com/rodriguezartav/xtuple/internal/datastore"
	"github.com/rodriguezartav/xtuple/internal/lock"
	"github.com/rodriguezartav/xtuple/internal/restore"
)

// Spec requests the build of one database.
type Spec struct {
	Database   string   `mapstructure:"database"`
	Extensions []string `mapstructure:"extensions"`
	Initialize bool     `mapstructure:"initialize"`
	Backup     string   `mapstructure:"backup"`
}

// wantsReset reports whether spec asks to be recreated from a backup.
func (s Spec) wantsReset() bool {
	return s.Initialize && s.Backup != ""
}

// Mode selects how far a build goes.
type Mode int

const (
	// ModeInstall probes, assembles and executes.
	ModeInstall Mode = iota
	// ModeDryRun probes and assembles but executes nothing.
	ModeDryRun
	// ModeOffline assembles against an empty registry without touching any database.
	ModeOffline
)

// Result is the outcome of one database build.
type Result struct {
	Spec     Spec
	Install  installer.Result
	Err      error
	Warnings []error
}

// OK reports whether the database built cleanly.
func (r Result) OK() bool {
	return r.Err == nil
}

// Prober seeds the registry of a database build.
type Prober interface {
	Probe(ctx context.Context, creds datastore.Credentials) (registry.Registry, error)
}

// Installer assembles and executes the aggregate script of one database.
type Installer interface {
	Assemble(ctx context.Context, target installer.Target) (installer.Result, error)
	Install(ctx context.Context, target installer.Target) (installer.Result, error)
}

// Options configures a Builder.
type Options struct {
	Credentials         datastore.Credentials
	MaintenanceDatabase string
	Template            string
	Concurrency         int
	Mode                Mode
	QueryTimeout        time.Duration
	RestoreTimeout      time.Duration
	Logger              *zap.Logger
	// OnState is called on every state transition of a run.
	OnState func(State)
	// OnResult is called as each database build finishes. Calls may be concurrent.
	OnResult func(Result)
}

// Builder runs builds. It holds no per-run state and may be reused.
type Builder struct {
	client    datastore.Client
	prober    Prober
	installer Installer
	restorer  restore.Runner
	locker    lock.Locker
	opts      Options
	logger    *zap.Logger
}

// New creates a builder. locker may be nil, in which case no locking happens.
func New(client datastore.Client, prober Prober, inst Installer, restorer restore.Runner, locker lock.Locker, opts Options) *Builder {
	if opts.MaintenanceDatabase == "" {
		opts.MaintenanceDatabase = "postgres"
	}
	if opts.Template == "" {
		opts.Template = "template1"
	}
	if locker == nil {
		locker = lock.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		client:    client,
		prober:    prober,
		installer: inst,
		restorer:  restorer,
		locker:    locker,
		opts:      opts,
		logger:    logger,
	}
}

// Build runs every spec. Results come back in spec order whether or not the
// run failed; the returned error is the first failure detected across all
// database builds, or a reset failure, which aborts the run before any
// database is built.
func (b *Builder) Build(ctx context.Context, specs []Spec) ([]Result, error) {
	r := &run{
		builder: b,
		logger:  b.logger.With(zap.String("run", uuid.NewString())),
		specs:   append([]Spec(nil), specs...),
	}
	return r.execute(ctx)
}

// run carries the state of one Build call.
type run struct {
	builder  *Builder
	logger   *zap.Logger
	specs    []Spec
	state    State
	warnings []error
}

func (r *run) execute(ctx context.Context) ([]Result, error) {
	if err := validate(r.specs); err != nil {
		r.enter(StateDone)
		return nil, err
	}

	for r.state != StateDone {
		switch r.state {
		case StateIdle:
			if len(r.specs) == 1 && r.specs[0].wantsReset() && r.builder.opts.Mode == ModeInstall {
				r.enter(StateResetting)
			} else {
				r.enter(StateBuilding)
			}

		case StateResetting:
			if err := r.reset(ctx); err != nil {
				r.enter(StateDone)
				return nil, err
			}
			r.specs[0].Initialize = false
			r.specs[0].Backup = ""
			r.enter(StateBuilding)

		case StateBuilding:
			results, err := r.buildAll(ctx)
			r.enter(StateDone)
			return results, err
		}
	}
	return nil, nil
}

func (r *run) enter(s State) {
	r.logger.Debug("build state", zap.Stringer("from", r.state), zap.Stringer("to", s))
	r.state = s
	if r.builder.opts.OnState != nil {
		r.builder.opts.OnState(s)
	}
}

// reset drops and recreates the database of the single spec, then restores
// its backup. Drop and create failures are fatal; a restore failure is only
// recorded as a warning.
func (r *run) reset(ctx context.Context) error {
	b := r.builder
	spec := r.specs[0]
	creds := b.opts.Credentials.WithDatabase(spec.Database)
	maint := b.opts.Credentials.WithDatabase(b.opts.MaintenanceDatabase)
	logger := r.logger.With(zap.String("database", spec.Database), zap.String("backup", spec.Backup))

	lease, err := b.locker.Acquire(ctx, lockName(creds))
	if err != nil {
		return &builderrors.ResetError{Database: spec.Database, Err: lockError(spec.Database, err)}
	}
	defer r.release(lease, spec.Database)

	logger.Info("resetting database")
	for _, stmt := range []string{
		datastore.DropDatabaseSQL(spec.Database),
		datastore.CreateDatabaseSQL(spec.Database, b.opts.Template),
	} {
		if err := withTimeout(ctx, b.opts.QueryTimeout, func(ctx context.Context) error {
			return b.client.ExecMaintenance(ctx, maint, stmt)
		}); err != nil {
			logger.Error("reset failed", zap.String("statement", stmt), zap.Error(err))
			return &builderrors.ResetError{
				Database: spec.Database,
				Err:      &builderrors.QueryError{Database: b.opts.MaintenanceDatabase, Op: stmt, Err: err},
			}
		}
	}

	if err := withTimeout(ctx, b.opts.RestoreTimeout, func(ctx context.Context) error {
		return b.restorer.Restore(ctx, creds, spec.Backup)
	}); err != nil {
		warning := &builderrors.RestoreWarning{Database: spec.Database, Backup: spec.Backup, Err: err}
		logger.Warn("ignoring restore error", zap.Error(warning))
		r.warnings = append(r.warnings, warning)
	}
	return nil
}

// buildAll builds every spec concurrently. A failing build does not cancel
// its siblings.
func (r *run) buildAll(ctx context.Context) ([]Result, error) {
	r.logger.Info("building databases", zap.Int("databases", len(r.specs)))

	results := make([]Result, len(r.specs))
	var g errgroup.Group
	if r.builder.opts.Concurrency > 0 {
		g.SetLimit(r.builder.opts.Concurrency)
	}

	for i, spec := range r.specs {
		i, spec := i, spec
		g.Go(func() error {
			res := r.buildOne(ctx, spec)
			results[i] = res
			if r.builder.opts.OnResult != nil {
				r.builder.opts.OnResult(res)
			}
			return res.Err
		})
	}
	err := g.Wait()

	if len(r.warnings) > 0 {
		results[0].Warnings = append(results[0].Warnings, r.warnings...)
	}
	return results, err
}

// buildOne probes and installs one database. It owns its copy of the
// credentials and its registry for the whole build.
func (r *run) buildOne(ctx context.Context, spec Spec) Result {
	b := r.builder
	res := Result{Spec: spec}
	creds := b.opts.Credentials.WithDatabase(spec.Database)
	logger := r.logger.With(zap.String("database", spec.Database))
	target := installer.Target{Credentials: creds, Extensions: spec.Extensions, Registry: registry.New()}

	if b.opts.Mode == ModeOffline {
		res.Install, res.Err = b.installer.Assemble(ctx, target)
		return r.finish(logger, res)
	}

	lease, err := b.locker.Acquire(ctx, lockName(creds))
	if err != nil {
		res.Err = lockError(spec.Database, err)
		return r.finish(logger, res)
	}
	defer r.release(lease, spec.Database)

	reg, err := b.prober.Probe(ctx, creds)
	if err != nil {
		res.Err = err
		return r.finish(logger, res)
	}
	target.Registry = reg

	if b.opts.Mode == ModeDryRun {
		res.Install, res.Err = b.installer.Assemble(ctx, target)
	} else {
		res.Install, res.Err = b.installer.Install(ctx, target)
	}
	return r.finish(logger, res)
}

func (r *run) finish(logger *zap.Logger, res Result) Result {
	if res.Err != nil {
		logger.Error("database build failed", zap.Error(res.Err))
	} else {
		logger.Info("database build finished",
			zap.Int("scripts", res.Install.Scripts),
			zap.Int("registry", res.Install.Registry.Len()),
			zap.Bool("executed", res.Install.Executed),
		)
	}
	return res
}

func (r *run) release(lease lock.Lease, database string) {
	if err := lease.Release(context.Background()); err != nil {
		r.logger.Warn("failed to release build lock", zap.String("database", database), zap.Error(err))
	}
}

// validate rejects spec lists that cannot be built.
func validate(specs []Spec) error {
	if len(specs) == 0 {
		return &builderrors.ValidationError{Field: "builds", Message: "no databases to build"}
	}
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.Database == "" {
			return &builderrors.ValidationError{Field: fmt.Sprintf("builds[%d].database", i), Message: "database name is required"}
		}
		if seen[s.Database] {
			return &builderrors.ValidationError{Field: fmt.Sprintf("builds[%d].database", i), Message: fmt.Sprintf("database %s is listed more than once", s.Database)}
		}
		seen[s.Database] = true
		if len(s.Extensions) == 0 {
			return &builderrors.ValidationError{Field: fmt.Sprintf("builds[%d].extensions", i), Message: fmt.Sprintf("database %s has no extensions", s.Database)}
		}
	}
	return nil
}

func lockName(creds datastore.Credentials) string {
	return net.JoinHostPort(creds.Hostname, strconv.Itoa(creds.Port)) + "/" + creds.Database
}

func lockError(database string, err error) error {
	if err == lock.ErrHeld {
		return &builderrors.LockError{Database: database}
	}
	return &builderrors.LockError{Database: database, Err: err}
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}
