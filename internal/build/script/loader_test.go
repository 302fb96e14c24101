package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
)

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppendsMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "a.sql", "select 1;\n\n  ")

	sql, err := NewLoader(Options{}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "select 1;\nDO $$ BEGIN RAISE NOTICE"))
	assert.Contains(t, sql, "'"+path+"'")
	assert.True(t, strings.HasSuffix(sql, "END $$;\n"))
}

func TestLoad_PLV8Marker(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "a.sql", "select 1;")

	sql, err := NewLoader(Options{Notice: NoticePLV8}).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "select 1;\ndo $$ plv8.elog(NOTICE, \"Just ran file "+path+"\"); $$ language plv8;\n", sql)
}

func TestLoad_MarkerSurvivesDollarQuotes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a$$b")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := writeScript(t, dir, "a.sql", "select 1;")

	sql, err := NewLoader(Options{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "select 1;\nDO $xtmarker$ BEGIN RAISE NOTICE 'Just ran file %', '"+path+"'; END $xtmarker$;\n", sql)

	sql, err = NewLoader(Options{Notice: NoticePLV8}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "select 1;\ndo $xtmarker$ plv8.elog(NOTICE, \"Just ran file "+path+"\"); $xtmarker$ language plv8;\n", sql)
}

func TestDollarTag(t *testing.T) {
	assert.Equal(t, "$$", dollarTag("select 1"))
	assert.Equal(t, "$xtmarker$", dollarTag("a $$ b"))
	assert.Equal(t, "$xtmarker_$", dollarTag("a $$ $xtmarker$ b"))
	assert.Equal(t, "$xtmarker__$", dollarTag("$$ $xtmarker$ $xtmarker_$"))
}

func TestLoad_NoMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "a.sql", "select 1;")

	sql, err := NewLoader(Options{Notice: NoticeNone}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "select 1;\n", sql)
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sql")

	_, err := NewLoader(Options{}).Load(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, builderrors.ErrNotFound))

	var nf *builderrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, path, nf.Path)
}

func TestLoad_UnterminatedScript(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no semicolon", "select 2"},
		{"semicolon then comment", "select 2; -- done"},
		{"empty file", ""},
		{"whitespace only", "  \n\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			path := writeScript(t, t.TempDir(), "b.sql", tt.content)

			sql, err := NewLoader(Options{Logger: zap.New(core)}).Load(context.Background(), path)
			require.Error(t, err)
			assert.Empty(t, sql)
			assert.True(t, errors.Is(err, builderrors.ErrFormat))
			assert.Contains(t, err.Error(), "b.sql")
			assert.Equal(t, 1, logs.FilterMessage("script rejected").Len())
		})
	}
}

func TestLoad_QuotesPathInMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "o'brien")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := writeScript(t, dir, "a.sql", "select 1;")

	sql, err := NewLoader(Options{}).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, sql, "o''brien")
}

func TestLoad_CanceledContext(t *testing.T) {
	path := writeScript(t, t.TempDir(), "a.sql", "select 1;")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(Options{}).Load(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
