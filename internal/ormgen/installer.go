package ormgen

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rodriguezartav/xtuple/internal/build/ormbridge"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
)

// InstallFunction is the database function that registers one ORM definition.
const InstallFunction = "xt.install_orm"

// Installer generates install statements for a directory of ORM definitions.
type Installer struct {
	logger *zap.Logger
}

var _ ormbridge.Installer = (*Installer)(nil)

// NewInstaller creates the default ORM installer.
func NewInstaller(logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{logger: logger}
}

// Install implements ormbridge.Installer. Every definition in dir is
// installed; only base (non-extension) definitions are reported as new
// records.
func (in *Installer) Install(ctx context.Context, dir string, known []registry.Record) (ormbridge.Output, error) {
	if err := ctx.Err(); err != nil {
		return ormbridge.Output{}, err
	}

	defs, err := LoadDir(dir)
	if err != nil {
		return ormbridge.Output{}, err
	}

	g, err := newGraph(defs, registry.New(known...))
	if err != nil {
		return ormbridge.Output{}, err
	}
	order, err := g.sort()
	if err != nil {
		return ormbridge.Output{}, err
	}

	var b strings.Builder
	var records []registry.Record
	for _, i := range order {
		d := defs[i]
		b.WriteString("select " + InstallFunction + "(" + pq.QuoteLiteral(string(d.Raw)) + ");\n")
		if !d.IsExtension {
			records = append(records, d.Record())
		}
	}

	in.logger.Debug("generated orm install statements",
		zap.String("dir", dir),
		zap.Int("definitions", len(defs)),
		zap.Int("records", len(records)),
	)

	return ormbridge.Output{SQL: b.String(), Records: records}, nil
}
