// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunValidFile(t *testing.T) {
	path := writeConfig(t, "log_level: debug\nlisten: \":9090\"\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "is valid")
	assert.Contains(t, stdout.String(), ":9090")
}

func TestRunUnknownKeyFails(t *testing.T) {
	path := writeConfig(t, "not_a_key: 1\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not_a_key")
}

func TestRunOutOfRangeValueFails(t *testing.T) {
	path := writeConfig(t, "batch_size: 0\n")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", path}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "batch_size")
}

func TestRunMissingFileFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-f", filepath.Join(t.TempDir(), "absent.yaml")}, &stdout, &stderr)

	assert.Equal(t, 1, code)
}

func TestRunWithoutFlagIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "usage")
}
