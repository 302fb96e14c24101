// Package ormgen is the default schema-object installer. It reads ORM
// definition files from an extension's ORM directory and generates the
// xt.install_orm calls that register them, ordered so that every ORM is
// installed after the ORMs it references.
package ormgen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rodriguezartav/xtuple/internal/build/registry"
)

// Subdirectories of an ORM directory that hold definition files, in install order.
var definitionDirs = []string{"models", "ext"}

// Definition is one ORM definition. Only the fields that drive ordering are
// decoded; Raw keeps the full document for install_orm.
type Definition struct {
	Context     string     `json:"context,omitempty"`
	NameSpace   string     `json:"nameSpace"`
	Type        string     `json:"type"`
	Table       string     `json:"table,omitempty"`
	IsExtension bool       `json:"isExtension,omitempty"`
	Properties  []Property `json:"properties,omitempty"`

	Raw  json.RawMessage `json:"-"`
	File string          `json:"-"`
}

// Property is an ORM property. Relations point at other ORMs by type.
type Property struct {
	Name   string    `json:"name"`
	ToOne  *Relation `json:"toOne,omitempty"`
	ToMany *Relation `json:"toMany,omitempty"`
}

// Relation references another ORM of the same namespace.
type Relation struct {
	Type string `json:"type"`
}

// Record returns the registry identity of the definition.
func (d *Definition) Record() registry.Record {
	return registry.Record{Namespace: d.NameSpace, Type: d.Type}
}

// References returns the records this definition needs installed first.
func (d *Definition) References() []registry.Record {
	var refs []registry.Record
	seen := map[registry.Record]bool{}
	add := func(rec registry.Record) {
		if rec == d.Record() && !d.IsExtension {
			return
		}
		if !seen[rec] {
			seen[rec] = true
			refs = append(refs, rec)
		}
	}

	if d.IsExtension {
		add(d.Record())
	}
	for _, p := range d.Properties {
		if p.ToOne != nil && p.ToOne.Type != "" {
			add(registry.Record{Namespace: d.NameSpace, Type: p.ToOne.Type})
		}
		if p.ToMany != nil && p.ToMany.Type != "" {
			add(registry.Record{Namespace: d.NameSpace, Type: p.ToMany.Type})
		}
	}
	return refs
}

// LoadDir reads every definition file under dir's models and ext
// subdirectories. Files are read in lexical order; each holds either one
// definition or an array of them.
func LoadDir(dir string) ([]*Definition, error) {
	var defs []*Definition
	for _, sub := range definitionDirs {
		files, err := filepath.Glob(filepath.Join(dir, sub, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sub, err)
		}
		sort.Strings(files)

		for _, file := range files {
			fileDefs, err := loadFile(file)
			if err != nil {
				return nil, err
			}
			defs = append(defs, fileDefs...)
		}
	}
	return defs, nil
}

func loadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read orm file %s: %w", path, err)
	}

	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		raws = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("orm file %s is not valid JSON: %w", path, err)
	}

	defs := make([]*Definition, 0, len(raws))
	for i, raw := range raws {
		var def Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("orm file %s entry %d: %w", path, i, err)
		}
		if def.NameSpace == "" || def.Type == "" {
			return nil, fmt.Errorf("orm file %s entry %d: nameSpace and type are required", path, i)
		}

		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return nil, fmt.Errorf("orm file %s entry %d: %w", path, i, err)
		}
		def.Raw = compact.Bytes()
		def.File = path
		defs = append(defs, &def)
	}
	return defs, nil
}
