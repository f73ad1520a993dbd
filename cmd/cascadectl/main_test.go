package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSites(t *testing.T) {
	res, err := run(t, "sites")
	require.NoError(t, err)
	assert.Contains(t, res, "NAME")
	assert.Contains(t, res, "pointer-validator")
	assert.Contains(t, res, "load-immediate")
}

func TestCaves(t *testing.T) {
	res, err := run(t, "caves", "--at", "0x130000000")
	require.NoError(t, err)
	for _, name := range []string{"null-guard", "pool-clear", "zero-init", "pointer-validator"} {
		assert.Contains(t, res, name+": site")
	}
	assert.Contains(t, res, "test r14, r14")
	assert.NotContains(t, res, "db ")
}

func TestCavesOutOfRange(t *testing.T) {
	_, err := run(t, "caves", "--at", "0x10000")
	assert.Error(t, err)
}

func TestSimulateActivates(t *testing.T) {
	res, err := run(t, "simulate")
	require.NoError(t, err)
	assert.Contains(t, res, "active: true")
	assert.Equal(t, 4, strings.Count(res, "cave "))
}

func TestSimulateEncrypted(t *testing.T) {
	res, err := run(t, "simulate", "--encrypted")
	require.NoError(t, err)
	assert.Contains(t, res, "active: false, writes: 0")
}

func TestSimulateRejectsFlags(t *testing.T) {
	_, err := run(t, "simulate", "--passes", "0")
	assert.Error(t, err)
	_, err = run(t, "simulate", "--flat", "5")
	assert.Error(t, err)
	_, err = run(t, "simulate", "--count", "3")
	assert.Error(t, err)
}

func TestTune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.ini")
	require.NoError(t, os.WriteFile(path, []byte("[Main]\nbAutoAdjust = true\n"), 0o644))

	res, err := run(t, "tune", "--config", path, "--frame", "30ms", "--cycles", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(res), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "cycle 3: shadow 1300, block level 0", lines[2])
}

func TestTuneCreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.ini")
	res, err := run(t, "tune", "--config", path, "--cycles", "1")
	require.NoError(t, err)
	assert.Contains(t, res, "shadow 8000")
	assert.FileExists(t, path)
}
