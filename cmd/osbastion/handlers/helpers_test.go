package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/cloud/fake"
	"github.com/imamik/osbastion/internal/config"
	"github.com/imamik/osbastion/internal/provisioning"
)

// repoRoot is the action root relative to this package.
const repoRoot = "../../.."

// testEnv swaps the package factories for an in-memory cloud. Tests using
// it must not run in parallel.
type testEnv struct {
	cloud       *fake.Cloud
	dir         string
	env         map[string]string
	stdout      *bytes.Buffer
	logs        *bytes.Buffer
	clientCalls int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		cloud:  fake.New(),
		dir:    dir,
		stdout: &bytes.Buffer{},
		logs:   &bytes.Buffer{},
		env: map[string]string{
			"INPUT_OPENSTACK_AUTH_URL":                      "https://keystone.example.com/v3",
			"INPUT_OPENSTACK_PROJECT_ID":                    "proj",
			"INPUT_OPENSTACK_REGION":                        "RegionOne",
			"INPUT_OPENSTACK_APPLICATION_CREDENTIAL_ID":     "app-id",
			"INPUT_OPENSTACK_APPLICATION_CREDENTIAL_SECRET": "app-secret",
			"INPUT_BASTION_NAME":                            "ci-bastion",
			"INPUT_IMAGE":                                   "ubuntu-24.04",
			"INPUT_FLAVOR":                                  "m1.small",
			"INPUT_NETWORK":                                 "private",
			"INPUT_EXTERNAL_NETWORK":                        "public",
			"INPUT_LEDGER_PATH":                             filepath.Join(dir, "ci-bastion.ledger.json"),
			"INPUT_CLOUD_INIT_DIR":                          filepath.Join(repoRoot, config.DefaultCloudInitDir),
			"GITHUB_OUTPUT":                                 filepath.Join(dir, "github_output"),
		},
	}
	e.cloud.EnforceDependencies = true

	origClient, origProbers, origTimeouts := newCloudClient, newProbers, loadTimeouts
	origTerminal, origConfirm, origLogger := isTerminal, confirmTeardown, logger
	t.Cleanup(func() {
		newCloudClient, newProbers, loadTimeouts = origClient, origProbers, origTimeouts
		isTerminal, confirmTeardown, logger = origTerminal, origConfirm, origLogger
	})

	newCloudClient = func(context.Context, *bastion.Spec, *config.Timeouts) (cloud.Client, error) {
		e.clientCalls++
		return e.cloud, nil
	}
	newProbers = func(*config.Timeouts, string, []byte) []provisioning.Prober {
		return []provisioning.Prober{provisioning.ProberFunc{
			ProbeName: "ok",
			Fn:        func(context.Context, string) error { return nil },
		}}
	}
	loadTimeouts = testTimeouts
	isTerminal = func() bool { return false }
	SetupLogging(e.logs, 1)

	return e
}

func (e *testEnv) inputs() *config.Inputs {
	return config.FromMap(e.env)
}

func (e *testEnv) keyPath() string {
	return filepath.Join(e.dir, "ci-bastion_id")
}

// outputs parses the step output file; later values win.
func (e *testEnv) outputs(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(e.env["GITHUB_OUTPUT"])
	require.NoError(t, err)

	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), "=")
		if ok {
			out[name] = value
		}
	}
	return out
}

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		ServerActive:      time.Second,
		Ready:             100 * time.Millisecond,
		ProbeInterval:     5 * time.Millisecond,
		DialTimeout:       50 * time.Millisecond,
		Delete:            time.Second,
		LedgerLock:        time.Second,
		CreateMaxAttempts: 3,
		DeleteMaxAttempts: 3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		APIRate:           1000,
		APIBurst:          100,
	}
}

func providerErr(kind bastion.Kind, op string, status int) error {
	return &bastion.ProviderError{Op: op, Kind: kind, StatusCode: status, Err: errors.New(http.StatusText(status))}
}
