package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfields/cadence/internal/version"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, version.Version)
}

func TestValidateCommandAcceptsDefaults(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "configuration is valid")
}

func TestValidateCommandRejectsOutOfRangeValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CADENCE_ACTIONS_PER_MINUTE", "1000")

	stdout, _, err := executeCLI(t, home, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration has")
	assert.Contains(t, stdout, "error:")
}

func TestHealPendingReportsEmptyState(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "heal", "pending")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no sessions waiting for authorization")
}

func TestHealAuthorizeUnknownSessionFails(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "heal", "authorize", "missing-session")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no pending session "missing-session"`)
}

func TestHealAuthorizeResolvesPendingSession(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeHealFixture(home, "heal-1"))

	stdout, _, err := executeCLI(t, home, "heal", "pending")
	require.NoError(t, err)
	assert.Contains(t, stdout, "heal-1")

	stdout, _, err = executeCLI(t, home, "heal", "authorize", "heal-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "session heal-1 authorized")

	// Resolved sessions disappear from the pending list.
	stdout, _, err = executeCLI(t, home, "heal", "pending")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no sessions waiting for authorization")

	// A second flip must not land.
	_, _, err = executeCLI(t, home, "heal", "cancel", "heal-1")
	require.Error(t, err)
}

func TestHealCancelPendingSession(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeHealFixture(home, "heal-2"))

	stdout, _, err := executeCLI(t, home, "heal", "cancel", "heal-2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "session heal-2 cancelled")
}

func TestStatusBeforeAnySession(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Cadence Engine Status")
	assert.Contains(t, stdout, "uninitialized")
	assert.Contains(t, stdout, "no browser session")
	assert.Contains(t, stdout, "not configured")
	assert.Contains(t, stdout, "pending authorizations: 0")
}

func TestStatusPicksUpPersistedControlPlaneKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CADENCE_CONTROL_PLANE_URL", "https://control.example.com")

	// An endpoint with no stored key leaves the client disabled.
	stdout, _, err := executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "not configured")

	keyPath := filepath.Join(home, ".cadence", "secrets", controlPlaneKeySecret)
	require.NoError(t, os.MkdirAll(filepath.Dir(keyPath), 0o700))
	require.NoError(t, os.WriteFile(keyPath, []byte("cp-key-789"), 0o600))

	stdout, _, err = executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "circuit: ")
	assert.NotContains(t, stdout, "not configured")
}

func TestStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeHealFixture(home, "heal-3"))

	stdout, _, err := executeCLI(t, home, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"Environment"`)
	assert.Contains(t, stdout, "heal-3")
}

func writeHealFixture(home, sessionID string) error {
	dir := filepath.Join(home, ".cadence")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	content := fmt.Sprintf(`version = 1

[[sessions]]
session_id = %q
timestamp = %d
status = "pending"
`, sessionID, time.Now().Add(-2*time.Minute).UnixMilli())

	return os.WriteFile(filepath.Join(dir, "heal_sessions.toml"), []byte(content), 0o600)
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
