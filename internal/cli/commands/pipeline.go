package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rodriguezartav/xtuple/internal/build"
	"github.com/rodriguezartav/xtuple/internal/build/installer"
	"github.com/rodriguezartav/xtuple/internal/build/manifest"
	"github.com/rodriguezartav/xtuple/internal/build/ormbridge"
	"github.com/rodriguezartav/xtuple/internal/build/probe"
	"github.com/rodriguezartav/xtuple/internal/build/script"
	"github.com/rodriguezartav/xtuple/internal/cli/config"
	"github.com/rodriguezartav/xtuple/internal/cli/ui"
	"github.com/rodriguezartav/xtuple/internal/datastore"
	"github.com/rodriguezartav/xtuple/internal/lock"
	"github.com/rodriguezartav/xtuple/internal/ormgen"
	"github.com/rodriguezartav/xtuple/internal/restore"
)

// Deps opens the external collaborators of a build. A nil io.Closer means
// there is nothing to close.
type Deps struct {
	OpenClient  func(cfg config.DatabaseConfig, logger *zap.Logger) (datastore.Client, io.Closer, error)
	OpenLocker  func(cfg config.LockConfig) (lock.Locker, io.Closer, error)
	NewRestorer func(cfg config.RestoreConfig, logger *zap.Logger) restore.Runner
	Confirm     func(message string) (bool, error)
}

func defaultDeps() Deps {
	return Deps{
		OpenClient: func(cfg config.DatabaseConfig, logger *zap.Logger) (datastore.Client, io.Closer, error) {
			client, err := datastore.NewSQLClient(datastore.Options{Driver: cfg.Driver, Logger: logger})
			if err != nil {
				return nil, nil, err
			}
			return client, client, nil
		},
		OpenLocker: func(cfg config.LockConfig) (lock.Locker, io.Closer, error) {
			if cfg.RedisURL == "" {
				return lock.Nop{}, nil, nil
			}
			locker, err := lock.Dial(cfg.RedisURL, cfg.TTL)
			if err != nil {
				return nil, nil, err
			}
			return locker, locker, nil
		},
		NewRestorer: func(cfg config.RestoreConfig, logger *zap.Logger) restore.Runner {
			return restore.NewPGRestore(cfg.Command, logger)
		},
		Confirm: surveyConfirm,
	}
}

// surveyConfirm asks on the terminal. It refuses when stdin is not a terminal.
func surveyConfirm(message string) (bool, error) {
	if fi, err := os.Stdin.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return false, errors.New("stdin is not a terminal; pass --yes to confirm")
	}
	confirmed := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}

// globalOptions holds the persistent flags of the root command
type globalOptions struct {
	configPath string
	verbose    bool
	logJSON    bool
	noColor    bool
}

// logger builds the process logger: debug and human readable with
// --verbose, warnings only otherwise. --log-json switches to JSON lines.
func (g *globalOptions) logger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	if g.verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	if g.logJSON {
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	}
	return cfg.Build()
}

// specFlags select the databases a command works on
type specFlags struct {
	only       []string
	database   string
	extensions []string
	initialize bool
	backup     string
}

// specs resolves the flags against the configured builds. An ad-hoc
// --database build replaces the configured list.
func (f *specFlags) specs(cfg *config.Config, errOut io.Writer, noColor bool) ([]build.Spec, error) {
	var specs []build.Spec

	if f.database != "" {
		if len(f.only) > 0 {
			return nil, errors.New("--only cannot be combined with --database")
		}
		if len(f.extensions) == 0 {
			return nil, fmt.Errorf("--database %s needs at least one --extension", f.database)
		}
		specs = []build.Spec{{Database: f.database, Extensions: f.extensions}}
	} else {
		selected, unknown := cfg.Select(f.only)
		if len(unknown) > 0 {
			for _, name := range unknown {
				fmt.Fprint(errOut, ui.UnknownDatabaseError(name, ui.FindSimilar(name, cfg.Names(), nil), noColor))
			}
			return nil, fmt.Errorf("unknown database: %s", strings.Join(unknown, ", "))
		}
		specs = selected
	}

	if len(specs) == 0 {
		hints := []string{"Build one database ad hoc: xtbuild build --database <name> --extension <dir>"}
		if !config.InProject() {
			hints = append([]string{"No xtbuild.yml in the current directory, pass --config <file>"}, hints...)
		}
		ui.WriteError(errOut, ui.ErrorOptions{
			Context: "NOTHING TO BUILD",
			Problem: "No builds are configured.",
			Hints:   hints,
			NoColor: noColor,
		})
		return nil, errors.New("nothing to build")
	}

	if f.initialize || f.backup != "" {
		if len(specs) != 1 {
			return nil, errors.New("--initialize and --backup need exactly one database")
		}
		specs[0].Initialize = specs[0].Initialize || f.initialize
		if f.backup != "" {
			specs[0].Backup = f.backup
		}
	}
	return specs, nil
}

// pipeline wires the build components for cfg. client may be nil for
// offline builds.
func pipeline(cfg *config.Config, client datastore.Client, restorer restore.Runner, locker lock.Locker, mode build.Mode, onResult func(build.Result), logger *zap.Logger) *build.Builder {
	loader := script.NewLoader(script.Options{
		Notice: script.NoticeLanguage(cfg.Build.NoticeLanguage),
		Logger: logger,
	})
	resolver := manifest.NewResolver(loader, logger)
	bridge := ormbridge.New(ormgen.NewInstaller(logger), logger)

	// validated when the config was loaded
	placement, _ := installer.ParsePlacement(cfg.Build.OrmPlacement)
	inst := installer.New(resolver, bridge, client, installer.Options{
		Placement:   placement,
		ExecTimeout: cfg.Timeouts.Exec,
		Logger:      logger,
	})

	return build.New(client, probe.New(client, cfg.Timeouts.Query, logger), inst, restorer, locker, build.Options{
		Credentials:         cfg.Database.Credentials,
		MaintenanceDatabase: cfg.Database.MaintenanceDatabase,
		Template:            cfg.Database.Template,
		Concurrency:         cfg.Build.Concurrency,
		Mode:                mode,
		QueryTimeout:        cfg.Timeouts.Query,
		RestoreTimeout:      cfg.Timeouts.Restore,
		Logger:              logger,
		OnResult:            onResult,
	})
}
