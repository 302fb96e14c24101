package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rodriguezartav/xtuple/internal/build"
	"github.com/rodriguezartav/xtuple/internal/cli/config"
	"github.com/rodriguezartav/xtuple/internal/cli/ui"
)

type buildOptions struct {
	specFlags
	yes         bool
	dryRun      bool
	output      string
	concurrency int
}

// NewBuildCommand creates the build command
func NewBuildCommand(g *globalOptions, deps Deps) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build databases from their extensions",
		Long: `Install every extension of each configured database, in order, as one
transaction per database. Databases build concurrently.

A single database marked initialize with a backup is dropped, recreated and
restored from the backup first.`,
		Example: `  # Build every database in xtbuild.yml
  xtbuild build

  # Build only dev and demo
  xtbuild build --only dev,demo

  # Rebuild dev from a backup without prompting
  xtbuild build --only dev --initialize --backup demo.backup --yes

  # Ad-hoc build, writing the aggregate script instead of running it
  xtbuild build --database scratch --extension ../xtuple --extension ../crm --dry-run --output out/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, g, deps, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "Build only these configured databases")
	cmd.Flags().StringVar(&opts.database, "database", "", "Build this database instead of the configured ones")
	cmd.Flags().StringArrayVarP(&opts.extensions, "extension", "e", nil, "Extension directory for --database (repeatable, in install order)")
	cmd.Flags().BoolVar(&opts.initialize, "initialize", false, "Drop and recreate the database from --backup first")
	cmd.Flags().StringVar(&opts.backup, "backup", "", "pg_restore archive used by --initialize")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip the confirmation prompt before a reset")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Assemble aggregate scripts without executing them")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write each aggregate script to <dir>/<database>.sql")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", -1, "Maximum databases built at once (0 = unlimited)")

	return cmd
}

func runBuild(cmd *cobra.Command, g *globalOptions, deps Deps, opts *buildOptions) error {
	errOut := cmd.ErrOrStderr()

	cfg, err := config.Load(g.configPath)
	if err != nil {
		fmt.Fprint(errOut, ui.ConfigError(err.Error(), g.noColor))
		return err
	}
	if opts.concurrency >= 0 {
		cfg.Build.Concurrency = opts.concurrency
	}

	specs, err := opts.specs(cfg, errOut, g.noColor)
	if err != nil {
		return err
	}

	if len(specs) == 1 && specs[0].Initialize && specs[0].Backup != "" && !opts.dryRun && !opts.yes {
		ok, err := deps.Confirm(fmt.Sprintf("Drop database %s and restore it from %s?", specs[0].Database, specs[0].Backup))
		if err != nil {
			return fmt.Errorf("cannot confirm reset of %s: %w", specs[0].Database, err)
		}
		if !ok {
			return errors.New("reset cancelled")
		}
	}

	logger, err := g.logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	client, clientCloser, err := deps.OpenClient(cfg.Database, logger)
	if err != nil {
		return err
	}
	if clientCloser != nil {
		defer clientCloser.Close()
	}

	locker, lockCloser, err := deps.OpenLocker(cfg.Lock)
	if err != nil {
		return err
	}
	if lockCloser != nil {
		defer lockCloser.Close()
	}

	mode := build.ModeInstall
	if opts.dryRun {
		mode = build.ModeDryRun
	}

	var bar *ui.ProgressBar
	var onResult func(build.Result)
	if !g.verbose {
		bar = ui.NewProgressBar(errOut, ui.ProgressBarOptions{Total: len(specs), Message: "databases", NoColor: g.noColor})
		onResult = func(build.Result) { bar.Add(1) }
	}

	builder := pipeline(cfg, client, deps.NewRestorer(cfg.Restore, logger), locker, mode, onResult, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, runErr := builder.Build(ctx, specs)
	if bar != nil && bar.Current() > 0 {
		// An interrupted run keeps its partial bar.
		if bar.Current() < len(specs) {
			fmt.Fprintln(errOut)
		} else {
			bar.Finish()
		}
	}

	if opts.output != "" && results != nil {
		if err := writeAggregates(opts.output, results); err != nil {
			return err
		}
	}

	printResults(cmd, g, results)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("build interrupted")
		}
		if results == nil {
			fmt.Fprint(errOut, ui.BuildFailure(specs[0].Database, runErr, g.noColor))
		}
		return fmt.Errorf("build failed: %w", runErr)
	}

	verb := "built"
	if opts.dryRun {
		verb = "assembled"
	}
	ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("%d database(s) %s in %s", len(results), verb, time.Since(start).Round(time.Millisecond)), g.noColor)
	return nil
}

// printResults writes the summary table to stdout and every failure and
// warning to stderr.
func printResults(cmd *cobra.Command, g *globalOptions, results []build.Result) {
	if len(results) == 0 {
		return
	}

	table := ui.NewTable(cmd.OutOrStdout(), g.noColor, "DATABASE", "EXTENSIONS", "SCRIPTS", "ORM", "STATUS", "DURATION")
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	if g.noColor {
		green.DisableColor()
		red.DisableColor()
	}

	for _, r := range results {
		status := green.Sprint("built")
		switch {
		case !r.OK():
			status = red.Sprint("failed")
		case !r.Install.Executed:
			status = green.Sprint("assembled")
		}
		table.AddRow(
			r.Spec.Database,
			strconv.Itoa(len(r.Spec.Extensions)),
			strconv.Itoa(r.Install.Scripts),
			strconv.Itoa(r.Install.OrmDirs),
			status,
			r.Install.Duration.Round(time.Millisecond).String(),
		)
	}
	table.Render()

	for _, r := range results {
		for _, w := range r.Warnings {
			fmt.Fprint(cmd.ErrOrStderr(), ui.Warning(w.Error(), g.noColor))
		}
		if r.Err != nil {
			fmt.Fprint(cmd.ErrOrStderr(), ui.BuildFailure(r.Spec.Database, r.Err, g.noColor))
		}
	}
}

// writeAggregates writes the aggregate script of every assembled database
// to dir/<database>.sql.
func writeAggregates(dir string, results []build.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, r := range results {
		if r.Install.SQL == "" {
			continue
		}
		path := filepath.Join(dir, r.Spec.Database+".sql")
		if err := os.WriteFile(path, []byte(r.Install.SQL), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}
