// Package restore seeds a database from a binary backup with pg_restore.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rodriguezartav/xtuple/internal/datastore"
)

// DefaultCommand is the restore utility invoked when none is configured.
const DefaultCommand = "pg_restore"

// Runner restores a backup file into an existing database.
type Runner interface {
	Restore(ctx context.Context, creds datastore.Credentials, backup string) error
}

// PGRestore runs pg_restore as a child process.
type PGRestore struct {
	Command string
	Logger  *zap.Logger
}

// NewPGRestore creates a runner for command (DefaultCommand when empty).
func NewPGRestore(command string, logger *zap.Logger) *PGRestore {
	if command == "" {
		command = DefaultCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGRestore{Command: command, Logger: logger}
}

// Args returns the command-line arguments for restoring backup into creds.Database.
func Args(creds datastore.Credentials, backup string) []string {
	var args []string
	if creds.Username != "" {
		args = append(args, "-U", creds.Username)
	}
	if creds.Hostname != "" {
		args = append(args, "-h", creds.Hostname)
	}
	if creds.Port != 0 {
		args = append(args, "-p", strconv.Itoa(creds.Port))
	}
	return append(args, "-d", creds.Database, backup)
}

// Restore implements Runner. The password is handed over through PGPASSWORD
// so it never shows up in the process list.
func (r *PGRestore) Restore(ctx context.Context, creds datastore.Credentials, backup string) error {
	args := Args(creds, backup)
	logger := r.Logger.With(zap.String("database", creds.Database), zap.String("backup", backup))
	logger.Info("restoring backup", zap.String("command", r.Command+" "+strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Env = os.Environ()
	if creds.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+creds.Password)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", r.Command, err, msg)
		}
		return fmt.Errorf("%s: %w", r.Command, err)
	}

	logger.Info("backup restored")
	return nil
}
