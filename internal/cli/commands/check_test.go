package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodriguezartav/xtuple/internal/build/ormbridge"
)

func TestCheckCommand(t *testing.T) {
	h := newHarness(t, twoBuilds)
	models := filepath.Join(ormbridge.Dir(filepath.Join(h.dir, "crm")), "models")
	require.NoError(t, os.MkdirAll(models, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(models, "crm.json"),
		[]byte(`[{"nameSpace": "XM", "type": "Account"}, {"nameSpace": "XM", "type": "Contact"}]`), 0o644))

	stdout, _, err := h.run("check")
	require.NoError(t, err)

	assert.Contains(t, stdout, "ORM DIRS")
	assert.Regexp(t, `dev\s+2\s+3\s+1\s+2\s+ok`, stdout)
	assert.Regexp(t, `test\s+1\s+2\s+0\s+0\s+ok`, stdout)
	assert.Empty(t, h.client.execs)
}

func TestCheckCommand_ReportsFailures(t *testing.T) {
	h := newHarness(t, twoBuilds)
	writeExtension(t, h.dir, "core", map[string]string{"a.sql": "create table a();", "b.sql": "create table b()"}, "a.sql", "b.sql")

	stdout, stderr, err := h.run("check", "--only", "dev,test")
	require.EqualError(t, err, "2 of 2 database(s) failed the check")

	assert.Regexp(t, `dev\s+2\s+0\s+0\s+0\s+failed`, stdout)
	assert.Contains(t, stderr, "BUILD FAILED: TEST")
	assert.Contains(t, stderr, "End the script with a semicolon")
}
