package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tomlrepo "github.com/bnema/warmpool/internal/adapters/repo/toml"
	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/version"
)

func TestVersionPrintsBuildVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "warmpool "+version.Version+" (go"), stdout)

	stdout, _, err = executeCLI(t, t.TempDir(), "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", stdout)
}

func TestStatusWithoutStateShowsEmptyView(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "status")

	require.NoError(t, err)
	assert.Contains(t, stdout, "warmpool")
	assert.Contains(t, stdout, "No credential captured yet.")
}

func TestStatusShowsPersistedCredential(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeStateFixture(t, home))

	stdout, _, err := executeCLI(t, home, "status", "--stale-after", "1000000h")

	require.NoError(t, err)
	assert.Contains(t, stdout, "credential: 5d41402abc4b")
	assert.Contains(t, stdout, "session: #12")
	assert.Contains(t, stdout, "rotations: 2")
	assert.Contains(t, stdout, "registered accounts: 1")
	assert.Contains(t, stdout, "quietowl4821")
	assert.NotContains(t, stdout, "[stale]")
}

func TestStatusJSONOutput(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeStateFixture(t, home))

	stdout, _, err := executeCLI(t, home, "status", "--json")

	require.NoError(t, err)
	require.True(t, json.Valid([]byte(stdout)))

	var out statusOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "5d41402abc4b", out.State.Fingerprint)
	assert.Equal(t, domain.SessionID(12), out.State.SessionID)
	assert.Nil(t, out.Pool)
}

func TestStatusFetchesLivePool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pool", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.PoolSnapshot{
			Mode:        domain.PoolModeHotSwap,
			Initialized: true,
			Rotations:   3,
			Sessions: []domain.SessionSnapshot{
				{ID: 21, Role: domain.RoleActive, State: domain.StateReady, InFlight: 1},
				{ID: 22, Role: domain.RoleStandby, State: domain.StateReady},
			},
		})
	}))
	defer server.Close()

	stdout, _, err := executeCLI(t, t.TempDir(), "status", "--server", server.URL+"/")

	require.NoError(t, err)
	assert.Contains(t, stdout, "pool: hotswap (initialized)")
	assert.Contains(t, stdout, "#21 active ready in-flight 1")
	assert.Contains(t, stdout, "#22 standby ready in-flight 0")
}

func TestStatusReportsUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	stdout, _, err := executeCLI(t, t.TempDir(), "status", "--server", server.URL, "--json")

	require.NoError(t, err)
	var out statusOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Contains(t, out.PoolErr, "unexpected status 503")
}

func TestInvalidConfigurationFailsEveryCommand(t *testing.T) {
	t.Setenv("WARMPOOL_POOL_MODE", "roundrobin")

	_, _, err := executeCLI(t, t.TempDir(), "status")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.Contains(t, err.Error(), `unsupported pool mode "roundrobin"`)
}

func TestConfigFileFromEnvironment(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(t.TempDir(), "warmpool.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pool]\nmode = \"warp\"\n"), 0o600))
	t.Setenv("WARMPOOL_CONFIG", path)

	_, _, err := executeCLI(t, home, "version")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported pool mode "warp"`)
}

func TestServeRejectsUnknownModeFlag(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "serve", "--mode", "bogus")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported pool mode "bogus"`)
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	if _, ok := os.LookupEnv("WARMPOOL_CONFIG"); !ok {
		t.Setenv("WARMPOOL_CONFIG", "")
	}

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeStateFixture(t *testing.T, home string) error {
	t.Helper()
	t.Setenv("HOME", home)

	repo, err := tomlrepo.NewStateRepository(viper.New())
	if err != nil {
		return err
	}

	capturedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return repo.Save(context.Background(), domain.LoginState{
		SecretRef:   "credential",
		Fingerprint: "5d41402abc4b",
		CapturedAt:  capturedAt,
		SessionID:   12,
		Rotations:   2,
		Accounts: []domain.RegisteredAccount{
			{Username: "quietowl4821", Email: "quietowl4821@mail.tm", CreatedAt: capturedAt},
		},
	})
}
