// Package manifest reads extension manifests and concatenates the scripts
// they list into one extension-level script.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
)

// FileName is the manifest file expected in every extension's source root.
const FileName = "manifest.js"

// ormLibSegment marks the ORM library extension, whose sources sit directly
// under "source" rather than "database/source".
const ormLibSegment = "lib/orm"

// Manifest is the parsed content of an extension manifest.
type Manifest struct {
	Name            string   `json:"name,omitempty"`
	Version         string   `json:"version,omitempty"`
	Comment         string   `json:"comment,omitempty"`
	LoadOrder       int      `json:"loadOrder,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	DatabaseScripts []string `json:"databaseScripts"`
}

// ScriptLoader loads one validated script body.
type ScriptLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// Resolver turns an extension directory into its concatenated script.
type Resolver struct {
	loader ScriptLoader
	logger *zap.Logger
}

// NewResolver creates a resolver that loads scripts through loader.
func NewResolver(loader ScriptLoader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{loader: loader, logger: logger}
}

// SourceRoot returns the directory that holds an extension's manifest and scripts.
func SourceRoot(extensionDir string) string {
	if strings.Contains(filepath.ToSlash(extensionDir), ormLibSegment) {
		return filepath.Join(extensionDir, "source")
	}
	return filepath.Join(extensionDir, "database", "source")
}

// Read parses the manifest of an extension.
func Read(extensionDir string) (*Manifest, error) {
	path := filepath.Join(SourceRoot(extensionDir), FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &builderrors.MissingManifestError{Path: path}
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &builderrors.InvalidManifestError{Path: path, Err: err}
	}
	if m.DatabaseScripts == nil {
		return nil, &builderrors.InvalidManifestError{Path: path, Err: errors.New("databaseScripts is missing")}
	}

	return &m, nil
}

// Resolve loads every script listed in the extension's manifest, in manifest
// order, and returns their concatenation. The first failing script aborts
// the extension and no partial script is returned.
func (r *Resolver) Resolve(ctx context.Context, extensionDir string) (string, int, error) {
	m, err := Read(extensionDir)
	if err != nil {
		return "", 0, err
	}

	root := SourceRoot(extensionDir)
	logger := r.logger.With(zap.String("extension", extensionDir))
	logger.Debug("resolving manifest", zap.Int("scripts", len(m.DatabaseScripts)))

	var b strings.Builder
	for _, name := range m.DatabaseScripts {
		body, err := r.loader.Load(ctx, filepath.Join(root, name))
		if err != nil {
			return "", 0, err
		}
		b.WriteString(body)
	}

	return b.String(), len(m.DatabaseScripts), nil
}
