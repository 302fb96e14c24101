// Package ormbridge connects the build pipeline to the schema-object (ORM)
// installer. It decides whether an extension has ORM definitions, hands the
// installer the registry built so far and folds the installer's output back
// into the build.
package ormbridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
)

// Output is what an ORM installer produces for one ORM directory.
type Output struct {
	SQL     string
	Records []registry.Record
}

// Installer generates SQL from the ORM definitions in dir. known lists the
// schema objects already registered in the database being built.
type Installer interface {
	Install(ctx context.Context, dir string, known []registry.Record) (Output, error)
}

// InstallerFunc adapts a function to the Installer interface.
type InstallerFunc func(ctx context.Context, dir string, known []registry.Record) (Output, error)

// Install calls f.
func (f InstallerFunc) Install(ctx context.Context, dir string, known []registry.Record) (Output, error) {
	return f(ctx, dir, known)
}

// Contribution is the ORM part of one extension's build output.
type Contribution struct {
	Dir     string
	SQL     string
	Added   int
	Skipped bool
}

// Bridge invokes the ORM installer for extensions that carry ORM definitions.
type Bridge struct {
	installer Installer
	logger    *zap.Logger
}

// New creates a bridge around installer.
func New(installer Installer, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{installer: installer, logger: logger}
}

// Dir returns the ORM directory of an extension.
func Dir(extensionDir string) string {
	return filepath.Join(extensionDir, "database", "orm")
}

// Apply runs the installer for extensionDir against reg and returns the
// generated SQL together with the grown registry. Extensions without an ORM
// directory return a skipped contribution and reg unchanged.
func (b *Bridge) Apply(ctx context.Context, extensionDir string, reg registry.Registry) (Contribution, registry.Registry, error) {
	dir := Dir(extensionDir)

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Contribution{Dir: dir, Skipped: true}, reg, nil
		}
		return Contribution{}, reg, fmt.Errorf("failed to stat orm directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Contribution{Dir: dir, Skipped: true}, reg, nil
	}

	out, err := b.installer.Install(ctx, dir, reg.Records())
	if err != nil {
		return Contribution{}, reg, &builderrors.SchemaObjectInstallError{Dir: dir, Err: err}
	}

	grown := reg.Merge(out.Records...)
	b.logger.Debug("orm installed",
		zap.String("dir", dir),
		zap.Int("generated_bytes", len(out.SQL)),
		zap.Int("new_records", grown.Len()-reg.Len()),
	)

	return Contribution{Dir: dir, SQL: out.SQL, Added: grown.Len() - reg.Len()}, grown, nil
}
