package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
)

const validManifest = `
name: Bastion
description: Transient bastion
inputs:
  operation:
    description: create or destroy
    required: true
    default: create
  openstack_auth_url:
    description: Keystone endpoint
  openstack_project_id:
    description: Project
  openstack_region:
    description: Region
  flavor:
    description: Flavor
    default: m1.small
outputs:
  address:
    description: Bastion address
    value: ${{ steps.bastion.outputs.address }}
runs:
  using: composite
  steps:
    - name: Run
      id: bastion
      shell: bash
      run: ./scripts/setup-bastion.sh
`

// repoRoot is the action root relative to this package.
const repoRoot = "../.."

func TestParse_Valid(t *testing.T) {
	t.Parallel()
	a, err := Parse([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "Bastion", a.Name)
	assert.True(t, a.Inputs["operation"].Required)
	assert.Equal(t, "composite", a.Runs.Using)
	assert.Equal(t, map[string]string{"operation": "create", "flavor": "m1.small"}, a.Defaults())
	assert.Equal(t, []string{"flavor", "openstack_auth_url", "openstack_project_id", "openstack_region", "operation"}, a.InputNames())
}

func TestParse_MissingTopLevelKeys(t *testing.T) {
	t.Parallel()
	for _, key := range RequiredKeys {
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			doc := map[string]string{
				"name":        "name: Bastion\n",
				"description": "description: Transient bastion\n",
				"inputs":      "inputs: {}\n",
				"runs":        "runs:\n  using: composite\n",
			}
			delete(doc, key)
			var data string
			for _, k := range RequiredKeys {
				data += doc[k]
			}

			_, err := Parse([]byte(data))
			require.Error(t, err)
			assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestParse_MissingRequiredInput(t *testing.T) {
	t.Parallel()
	data := `
name: Bastion
description: Transient bastion
inputs:
  operation: {description: op}
  openstack_auth_url: {description: url}
  openstack_project_id: {description: project}
runs:
  using: composite
  steps:
    - {shell: bash, run: "true"}
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "openstack_region")
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()
	header := "name: B\ndescription: D\ninputs:\n  operation: {description: o, default: %s}\n  openstack_auth_url: {description: u}\n  openstack_project_id: {description: p}\n  openstack_region: {description: r}\n"

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not yaml", "name: [", "not valid YAML"},
		{"not a mapping", "- a\n- b\n", "must be a mapping"},
		{"empty name", "name: ''\ndescription: D\ninputs: {}\nruns: {using: composite}\n", "name is empty"},
		{"bad operation default", fmt.Sprintf(header, "upgrade") + "runs:\n  using: composite\n  steps: [{shell: bash, run: x}]\n", "operation default"},
		{"no steps", fmt.Sprintf(header, "create") + "runs:\n  using: composite\n", "no steps"},
		{"step without shell", fmt.Sprintf(header, "create") + "runs:\n  using: composite\n  steps: [{run: x}]\n", "without a shell"},
		{"empty step", fmt.Sprintf(header, "create") + "runs:\n  using: composite\n  steps: [{name: x}]\n", "needs run or uses"},
		{"docker without image", fmt.Sprintf(header, "create") + "runs:\n  using: docker\n", "no image"},
		{"node without main", fmt.Sprintf(header, "create") + "runs:\n  using: node20\n", "no main"},
		{"no using", fmt.Sprintf(header, "create") + "runs: {}\n", "runs.using"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckInputs(t *testing.T) {
	t.Parallel()
	a, err := Parse([]byte(validManifest))
	require.NoError(t, err)

	in := config.FromMap(map[string]string{})
	err = a.CheckInputs(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation")

	err = a.CheckInputs(in.WithDefaults(a.Defaults()))
	assert.NoError(t, err, "the manifest default satisfies a required input")

	err = a.CheckInputs(config.FromMap(map[string]string{"INPUT_OPERATION": "upgrade"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), FileName))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// The checked-in action.yaml is the contract GitHub consumes.
func TestRepositoryManifest(t *testing.T) {
	t.Parallel()
	a, err := Load(filepath.Join(repoRoot, FileName))
	require.NoError(t, err)

	for _, name := range RequiredInputs {
		assert.Contains(t, a.Inputs, name)
	}
	assert.Equal(t, config.OperationCreate, a.Inputs["operation"].Default)
	assert.Equal(t, "composite", a.Runs.Using)

	for _, out := range []string{"address", "server_id", "ledger_path", "state", "private_key_path"} {
		assert.Contains(t, a.Outputs, out)
	}

	// Composite actions do not export inputs, so every input must be
	// forwarded to the lifecycle step as INPUT_<NAME>.
	var lifecycle *Step
	for i := range a.Runs.Steps {
		if a.Runs.Steps[i].ID == "bastion" {
			lifecycle = &a.Runs.Steps[i]
		}
	}
	require.NotNil(t, lifecycle, "the lifecycle step has id bastion")
	for _, name := range a.InputNames() {
		assert.Equal(t, "${{ inputs."+name+" }}", lifecycle.Env[config.EnvName(name)], name)
	}
}

func TestRepositoryLayout(t *testing.T) {
	t.Parallel()
	require.NoError(t, CheckLayout(repoRoot))
}

func TestCheckLayout(t *testing.T) {
	t.Parallel()

	t.Run("missing everything", func(t *testing.T) {
		t.Parallel()
		err := CheckLayout(t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, bastion.ErrInvalidConfig)
		assert.Contains(t, err.Error(), ScriptsDir)
		assert.Contains(t, err.Error(), config.DefaultCloudInitDir)
	})

	t.Run("script not executable", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, ScriptsDir), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(root, config.DefaultCloudInitDir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, ScriptsDir, "setup-bastion.sh"), []byte("#!/bin/sh\n"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, ScriptsDir, "teardown-bastion.sh"), []byte("#!/bin/sh\n"), 0o644))

		err := CheckLayout(root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "teardown-bastion.sh is not executable")
		assert.NotContains(t, err.Error(), "setup-bastion.sh")
	})

	t.Run("cloud-init is a file", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, ScriptsDir), 0o755))
		for _, s := range Scripts {
			require.NoError(t, os.WriteFile(filepath.Join(root, ScriptsDir, s), []byte("#!/bin/sh\n"), 0o755))
		}
		require.NoError(t, os.WriteFile(filepath.Join(root, config.DefaultCloudInitDir), nil, 0o644))

		err := CheckLayout(root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	})
}
