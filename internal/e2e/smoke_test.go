package e2e

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tomlrepo "github.com/bnema/warmpool/internal/adapters/repo/toml"
	"github.com/bnema/warmpool/internal/domain"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	stdout, stderr, err := runWarmpool(t, binaryPath, home, "version")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.NotEmpty(t, stdout)

	stdout, stderr, err = runWarmpool(t, binaryPath, home, "status")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "No credential captured yet.")

	require.NoError(t, writeStateFixture(home))

	stdout, stderr, err = runWarmpool(t, binaryPath, home, "status", "--json")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"Fingerprint": "9e107d9d372b"`)
}

func TestSmokeRejectsInvalidConfig(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	configDir := filepath.Join(home, ".warmpool")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("[pool]\nmode = \"warp\"\n"), 0o600))

	_, stderr, err := runWarmpool(t, binaryPath, home, "status")
	require.Error(t, err)
	assert.Contains(t, stderr, `unsupported pool mode "warp"`)
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "warmpool-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/warmpool")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build warmpool binary: %s", string(output))
	return binaryPath
}

func runWarmpool(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), "HOME="+home, "WARMPOOL_CONFIG=", "WARMPOOL_SECRETS_BACKEND=file")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func writeStateFixture(home string) error {
	v := viper.New()
	v.Set("state.path", filepath.Join(home, ".warmpool", "state.toml"))

	repo, err := tomlrepo.NewStateRepository(v)
	if err != nil {
		return err
	}

	return repo.Save(context.Background(), domain.LoginState{
		SecretRef:   "credential",
		Fingerprint: "9e107d9d372b",
		CapturedAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		SessionID:   3,
	})
}
