package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rodriguezartav/xtuple/internal/build/manifest"
	"github.com/rodriguezartav/xtuple/internal/cli/config"
	"github.com/rodriguezartav/xtuple/internal/datastore"
	"github.com/rodriguezartav/xtuple/internal/lock"
	"github.com/rodriguezartav/xtuple/internal/restore"
)

type fakeClient struct {
	mu    sync.Mutex
	execs map[string]string
	maint []string
}

func (f *fakeClient) QueryStrings(ctx context.Context, creds datastore.Credentials, query string) ([][]string, error) {
	return nil, nil
}

func (f *fakeClient) Exec(ctx context.Context, creds datastore.Credentials, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execs == nil {
		f.execs = map[string]string{}
	}
	f.execs[creds.Database] = sql
	return nil
}

func (f *fakeClient) ExecMaintenance(ctx context.Context, creds datastore.Credentials, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maint = append(f.maint, stmt)
	return nil
}

type fakeRestorer struct {
	backups []string
}

func (f *fakeRestorer) Restore(ctx context.Context, creds datastore.Credentials, backup string) error {
	f.backups = append(f.backups, creds.Database+" < "+backup)
	return nil
}

type harness struct {
	dir      string
	client   *fakeClient
	restorer *fakeRestorer
	confirm  func(string) (bool, error)
	asked    []string
}

// newHarness chdirs into a temp project holding two extensions, core and
// crm, and the given xtbuild.yml. "$ROOT" in cfg expands to the project dir.
func newHarness(t *testing.T, cfg string) *harness {
	t.Helper()
	dir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })

	writeExtension(t, dir, "core", map[string]string{"a.sql": "create table a();", "b.sql": "create table b();"}, "a.sql", "b.sql")
	writeExtension(t, dir, "crm", map[string]string{"c.sql": "create table c();"}, "c.sql")

	if cfg != "" {
		cfg = strings.ReplaceAll(cfg, "$ROOT", dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "xtbuild.yml"), []byte(cfg), 0o644))
	}

	return &harness{
		dir:      dir,
		client:   &fakeClient{},
		restorer: &fakeRestorer{},
		confirm:  func(string) (bool, error) { return true, nil },
	}
}

func writeExtension(t *testing.T, root, name string, scripts map[string]string, order ...string) {
	t.Helper()
	src := manifest.SourceRoot(filepath.Join(root, name))
	require.NoError(t, os.MkdirAll(src, 0o755))
	quoted := make([]string, len(order))
	for i, file := range order {
		quoted[i] = `"` + file + `"`
		require.NoError(t, os.WriteFile(filepath.Join(src, file), []byte(scripts[file]), 0o644))
	}
	body := `{"name": "` + name + `", "databaseScripts": [` + strings.Join(quoted, ",") + `]}`
	require.NoError(t, os.WriteFile(filepath.Join(src, manifest.FileName), []byte(body), 0o644))
}

func (h *harness) deps() Deps {
	return Deps{
		OpenClient: func(config.DatabaseConfig, *zap.Logger) (datastore.Client, io.Closer, error) {
			return h.client, nil, nil
		},
		OpenLocker: func(config.LockConfig) (lock.Locker, io.Closer, error) {
			return lock.Nop{}, nil, nil
		},
		NewRestorer: func(config.RestoreConfig, *zap.Logger) restore.Runner {
			return h.restorer
		},
		Confirm: func(message string) (bool, error) {
			h.asked = append(h.asked, message)
			return h.confirm(message)
		},
	}
}

// run executes the root command with args and returns stdout and stderr.
func (h *harness) run(args ...string) (string, string, error) {
	cmd := newRootCommand(h.deps())
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

const twoBuilds = `
build:
  notice_language: none
builds:
  - database: dev
    extensions: [$ROOT/core, $ROOT/crm]
  - database: test
    extensions: [$ROOT/core]
`
