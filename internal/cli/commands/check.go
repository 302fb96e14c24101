package commands

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rodriguezartav/xtuple/internal/build"
	"github.com/rodriguezartav/xtuple/internal/cli/config"
	"github.com/rodriguezartav/xtuple/internal/cli/ui"
)

// NewCheckCommand creates the check command
func NewCheckCommand(g *globalOptions) *cobra.Command {
	flags := &specFlags{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate extensions without touching any database",
		Long: `Assemble the aggregate script of each configured database offline: read
every manifest, check every script ends in a semicolon and order the ORM
definitions, starting from an empty registry. Nothing connects to PostgreSQL.`,
		Example: `  xtbuild check
  xtbuild check --only dev
  xtbuild check --database scratch --extension ../xtuple`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, g, flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.only, "only", nil, "Check only these configured databases")
	cmd.Flags().StringVar(&flags.database, "database", "", "Check this database instead of the configured ones")
	cmd.Flags().StringArrayVarP(&flags.extensions, "extension", "e", nil, "Extension directory for --database (repeatable, in install order)")

	return cmd
}

func runCheck(cmd *cobra.Command, g *globalOptions, flags *specFlags) error {
	errOut := cmd.ErrOrStderr()

	cfg, err := config.Load(g.configPath)
	if err != nil {
		fmt.Fprint(errOut, ui.ConfigError(err.Error(), g.noColor))
		return err
	}

	specs, err := flags.specs(cfg, errOut, g.noColor)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if g.verbose {
		if logger, err = g.logger(); err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()
	}

	var results []build.Result
	var runErr error
	_ = ui.WithSpinner(errOut, "Checking extensions", g.noColor, func(s *ui.Spinner) error {
		var checked atomic.Int64
		onResult := func(r build.Result) {
			s.UpdateMessage(fmt.Sprintf("Checked %s (%d/%d)", r.Spec.Database, checked.Add(1), len(specs)))
		}
		builder := pipeline(cfg, nil, nil, nil, build.ModeOffline, onResult, logger)
		results, runErr = builder.Build(cmd.Context(), specs)
		return runErr
	})

	table := ui.NewTable(cmd.OutOrStdout(), g.noColor, "DATABASE", "EXTENSIONS", "SCRIPTS", "ORM DIRS", "RECORDS", "STATUS")
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = "failed"
		}
		table.AddRow(
			r.Spec.Database,
			strconv.Itoa(len(r.Spec.Extensions)),
			strconv.Itoa(r.Install.Scripts),
			strconv.Itoa(r.Install.OrmDirs),
			strconv.Itoa(r.Install.Registry.Len()),
			status,
		)
	}
	table.Render()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprint(errOut, ui.BuildFailure(r.Spec.Database, r.Err, g.noColor))
		}
	}

	if runErr != nil {
		if failed == 0 {
			return runErr
		}
		return fmt.Errorf("%d of %d database(s) failed the check", failed, len(specs))
	}
	return nil
}
