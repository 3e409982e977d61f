package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listing:
  backend: colly
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "scrape", "plan", "migrate"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestPlanPrintsEmptyPlan(t *testing.T) {
	out, err := run(t, "plan", "--config", writeConfig(t))
	require.NoError(t, err)

	var plan map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &plan), out)
	assert.Contains(t, plan, "due")
	assert.Contains(t, plan, "today")
}

func TestScrapeUnknownItemFails(t *testing.T) {
	_, err := run(t, "scrape", "missing-item", "--config", writeConfig(t))
	require.Error(t, err)
}

func TestMigrateNeedsDSN(t *testing.T) {
	_, err := run(t, "migrate", "--config", writeConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestBadConfigFileFails(t *testing.T) {
	_, err := run(t, "plan", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
