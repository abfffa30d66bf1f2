package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud/fake"
	"github.com/imamik/osbastion/internal/util/keygen"
)

func TestSetupAndTeardown(t *testing.T) {
	e := newTestEnv(t)

	err := Setup(context.Background(), e.inputs(), Overrides{}, e.stdout)
	require.NoError(t, err)

	outs := e.outputs(t)
	assert.Equal(t, "Ready", outs["state"])
	assert.Equal(t, "203.0.113.10", outs["address"])
	assert.NotEmpty(t, outs["server_id"])
	assert.Equal(t, e.env["INPUT_LEDGER_PATH"], outs["ledger_path"])
	assert.Equal(t, e.keyPath(), outs["private_key_path"])

	info, err := os.Stat(e.keyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Contains(t, e.stdout.String(), "ready at 203.0.113.10")
	assert.Contains(t, e.stdout.String(), "ssh -i "+e.keyPath())
	assert.Len(t, e.cloud.Resources(), len(bastion.Kinds))

	e.stdout.Reset()
	err = Teardown(context.Background(), e.inputs(), Overrides{}, false, e.stdout)
	require.NoError(t, err)

	assert.Equal(t, "Destroyed", e.outputs(t)["state"])
	assert.Empty(t, e.cloud.Resources())
	assert.NoFileExists(t, e.keyPath(), "the ephemeral key is removed with the bastion")
	assert.Contains(t, e.stdout.String(), "Teardown of ci-bastion: Destroyed")
}

func TestSetup_ReusesKeyOfInterruptedRun(t *testing.T) {
	e := newTestEnv(t)
	kp, err := keygen.Generate(keygen.Ed25519, "earlier")
	require.NoError(t, err)
	require.NoError(t, kp.WritePrivateKey(e.keyPath()))

	require.NoError(t, Setup(context.Background(), e.inputs(), Overrides{}, e.stdout))

	data, err := os.ReadFile(e.keyPath())
	require.NoError(t, err)
	assert.Equal(t, kp.PrivateKey, data)
}

func TestSetup_SuppliedPublicKey(t *testing.T) {
	e := newTestEnv(t)
	kp, err := keygen.Generate(keygen.Ed25519, "user")
	require.NoError(t, err)
	e.env["INPUT_SSH_PUBLIC_KEY"] = kp.AuthorizedKey()

	require.NoError(t, Setup(context.Background(), e.inputs(), Overrides{}, e.stdout))

	assert.NoFileExists(t, e.keyPath())
	assert.NotContains(t, e.outputs(t), "private_key_path")
	assert.NotContains(t, e.stdout.String(), "ssh -i")
}

func TestSetup_FailureIsTornDown(t *testing.T) {
	e := newTestEnv(t)
	e.cloud.Fail(fake.OpCreate, bastion.KindServer, providerErr(bastion.KindServer, "create", http.StatusServiceUnavailable), -1)

	err := Setup(context.Background(), e.inputs(), Overrides{}, e.stdout)
	require.Error(t, err)
	assert.Equal(t, ExitProvisionFailed, ExitCode(err))

	outs := e.outputs(t)
	assert.Equal(t, "Destroyed", outs["state"])
	assert.NotContains(t, outs, "private_key_path")
	assert.NotContains(t, outs, "address")
	assert.Empty(t, e.cloud.Resources())
	assert.NoFileExists(t, e.keyPath(), "nothing is left for the key to open")
}

func TestSetup_InvalidConfigMakesNoCloudCall(t *testing.T) {
	e := newTestEnv(t)
	delete(e.env, "INPUT_OPENSTACK_REGION")

	err := Setup(context.Background(), e.inputs(), Overrides{}, e.stdout)
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, ExitCode(err))
	assert.Zero(t, e.clientCalls)
	assert.NoFileExists(t, e.env["INPUT_LEDGER_PATH"])
}

func TestSetup_LedgerOverride(t *testing.T) {
	e := newTestEnv(t)
	path := filepath.Join(e.dir, "elsewhere", "ledger.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	require.NoError(t, Setup(context.Background(), e.inputs(), Overrides{LedgerPath: path}, e.stdout))

	assert.FileExists(t, path)
	assert.NoFileExists(t, e.env["INPUT_LEDGER_PATH"])
	assert.Equal(t, path, e.outputs(t)["ledger_path"])
}

func TestSetup_WritesMetrics(t *testing.T) {
	e := newTestEnv(t)
	metrics := filepath.Join(e.dir, "osbastion.prom")

	require.NoError(t, Setup(context.Background(), e.inputs(), Overrides{MetricsFile: metrics}, e.stdout))

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `osbastion_lifecycle_state{state="Ready"} 1`)
}

func TestTeardown_LeakReport(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, Setup(context.Background(), e.inputs(), Overrides{}, e.stdout))

	e.cloud.Fail(fake.OpDelete, bastion.KindKeypair, providerErr(bastion.KindKeypair, "delete", http.StatusInternalServerError), -1)
	e.stdout.Reset()

	err := Teardown(context.Background(), e.inputs(), Overrides{}, true, e.stdout)
	require.Error(t, err)
	assert.Equal(t, ExitTeardownLeaked, ExitCode(err))

	out := e.stdout.String()
	assert.Contains(t, out, "1 resource(s) leaked")
	assert.Contains(t, out, "ci-bastion-key")
	assert.Equal(t, "TearingDown", e.outputs(t)["state"])
	assert.FileExists(t, e.keyPath(), "the key is kept while resources remain")
}

func TestTeardown_NothingRecorded(t *testing.T) {
	e := newTestEnv(t)

	err := Teardown(context.Background(), e.inputs(), Overrides{}, true, e.stdout)
	require.NoError(t, err)
	assert.Contains(t, e.stdout.String(), "nothing recorded")
}

func TestTeardown_SweepsOrphans(t *testing.T) {
	e := newTestEnv(t)
	e.cloud.Seed(bastion.KindServer, "ci-bastion")
	sweep := true

	err := Teardown(context.Background(), e.inputs(), Overrides{Sweep: &sweep}, true, e.stdout)
	require.NoError(t, err)
	assert.Empty(t, e.cloud.Resources())
	assert.Contains(t, e.stdout.String(), "swept")
}

func TestTeardown_Confirmation(t *testing.T) {
	e := newTestEnv(t)
	isTerminal = func() bool { return true }

	var asked string
	confirmTeardown = func(name string) (bool, error) {
		asked = name
		return false, nil
	}

	err := Teardown(context.Background(), e.inputs(), Overrides{}, false, e.stdout)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, "ci-bastion", asked)
	assert.Zero(t, e.clientCalls)

	confirmTeardown = func(string) (bool, error) { return false, errors.New("no tty") }
	err = Teardown(context.Background(), e.inputs(), Overrides{}, false, e.stdout)
	require.Error(t, err)

	asked = ""
	err = Teardown(context.Background(), e.inputs(), Overrides{}, true, e.stdout)
	require.NoError(t, err)
	assert.Empty(t, asked, "--yes skips the prompt")
}
