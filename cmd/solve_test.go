package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		solveAlg = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSolveScenario(t *testing.T) {
	out, err := execute(t, "solve", "--scenario", filepath.Join("..", "qa", "scenarios", "testdata", "single_ev.yaml"), "--algorithm", "greedy")
	require.NoError(t, err)
	assert.Contains(t, out, "single-ev-ample-budget [greedy]")
	assert.Contains(t, out, "total unmet 0.0 Wh")
}

func TestSolveReportsUnmetExpectation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: impossible
steps: 2
budget: [0]
sessions:
  - id: "1"
    station_id: cs-1
    max_power: 7000
    arrive_min: -10
    depart_min: 30
    energy_wh: 1000
expected:
  delivered_wh:
    "1": 1000
`), 0o600))
	out, err := execute(t, "solve", "-s", path)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL session 1")
}
