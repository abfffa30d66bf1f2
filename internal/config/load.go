package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/util/naming"
)

// MirrorSettings configures the optional ledger mirror on S3-compatible storage.
type MirrorSettings struct {
	Endpoint  string
	Bucket    string
	Key       string
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether a mirror bucket is configured.
func (m MirrorSettings) Enabled() bool {
	return m.Bucket != ""
}

// Settings holds everything about a run that is not part of the bastion spec.
type Settings struct {
	Operation        string
	LedgerPath       string
	CloudInitDir     string
	MetricsFile      string
	OutputFile       string
	KeyType          string
	WaitForCloudInit bool
	Sweep            bool
	Mirror           MirrorSettings
}

// LoadSpec builds the bastion spec for this run. specFile, when non-empty,
// supplies a YAML base document; non-empty inputs override its fields.
// The result is validated and errors wrap bastion.ErrInvalidConfig.
func LoadSpec(in *Inputs, specFile string) (*bastion.Spec, error) {
	spec, err := ResolveSpec(in, specFile)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// LoadAccessSpec is LoadSpec for teardown: only the name, region and
// credentials are validated.
func LoadAccessSpec(in *Inputs, specFile string) (*bastion.Spec, error) {
	spec, err := ResolveSpec(in, specFile)
	if err != nil {
		return nil, err
	}
	if err := spec.ValidateAccess(); err != nil {
		return nil, err
	}
	return spec, nil
}

// ResolveSpec merges the spec file and inputs without validating the
// result.
func ResolveSpec(in *Inputs, specFile string) (*bastion.Spec, error) {
	spec := &bastion.Spec{}
	if specFile != "" {
		base, err := LoadSpecFile(specFile)
		if err != nil {
			return nil, err
		}
		spec = base
	}

	tags, err := in.Map("tags")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bastion.ErrInvalidConfig, err)
	}

	override(&spec.Provider, in.Get("provider"))
	override(&spec.Name, in.Get("bastion_name"))
	override(&spec.AuthURL, in.GetOr("openstack_auth_url", "OS_AUTH_URL"))
	override(&spec.ProjectID, in.GetOr("openstack_project_id", "OS_PROJECT_ID"))
	override(&spec.Region, in.GetOr("openstack_region", "OS_REGION_NAME"))
	override(&spec.Credentials.ApplicationCredentialID, in.GetOr("openstack_application_credential_id", "OS_APPLICATION_CREDENTIAL_ID"))
	override(&spec.Credentials.ApplicationCredentialSecret, in.GetOr("openstack_application_credential_secret", "OS_APPLICATION_CREDENTIAL_SECRET"))
	override(&spec.Credentials.Username, in.GetOr("openstack_username", "OS_USERNAME"))
	override(&spec.Credentials.Password, in.GetOr("openstack_password", "OS_PASSWORD"))
	override(&spec.Credentials.UserDomainName, in.GetOr("openstack_user_domain_name", "OS_USER_DOMAIN_NAME"))
	override(&spec.Credentials.Token, in.GetOr("hcloud_token", "HCLOUD_TOKEN"))
	override(&spec.Image, in.Get("image"))
	override(&spec.Flavor, in.Get("flavor"))
	override(&spec.Network, in.Get("network"))
	override(&spec.ExternalNetwork, in.Get("external_network"))
	override(&spec.SSHPublicKey, in.Get("ssh_public_key"))
	override(&spec.SSHUser, in.Get("ssh_user"))
	if cidrs := in.List("allowed_cidrs"); len(cidrs) > 0 {
		spec.AllowedCIDRs = cidrs
	}
	if len(tags) > 0 {
		if spec.Tags == nil {
			spec.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			spec.Tags[k] = v
		}
	}

	applySpecDefaults(spec, in)
	return spec, nil
}

// LoadSpecFile reads a bastion spec from a YAML file without validating it.
func LoadSpecFile(path string) (*bastion.Spec, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var spec bastion.Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: spec file %s: %v", bastion.ErrInvalidConfig, path, err)
	}
	return &spec, nil
}

func applySpecDefaults(spec *bastion.Spec, in *Inputs) {
	if spec.Provider == "" {
		spec.Provider = bastion.ProviderOpenStack
	}
	if spec.Name == "" {
		spec.Name = defaultBastionName(in)
	}
	if spec.Provider == bastion.ProviderOpenStack && spec.Credentials.Username != "" && spec.Credentials.UserDomainName == "" {
		spec.Credentials.UserDomainName = DefaultUserDomain
	}
}

// BastionName returns the bastion_name input or the default derived from
// the workflow run.
func BastionName(in *Inputs) string {
	if name := in.Get("bastion_name"); name != "" {
		return name
	}
	return defaultBastionName(in)
}

// defaultBastionName derives a name unique to the workflow run when one is available.
func defaultBastionName(in *Inputs) string {
	runID := in.Env("GITHUB_RUN_ID")
	if runID == "" {
		return "osbastion"
	}
	name := "gha-bastion-" + runID
	if attempt := in.Env("GITHUB_RUN_ATTEMPT"); attempt != "" {
		name += "-" + attempt
	}
	return name
}

// LoadSettings resolves the non-spec settings of a run. bastionName is used
// to derive the default ledger path.
func LoadSettings(in *Inputs, bastionName string) (*Settings, error) {
	wait, err := in.Bool("wait_for_cloud_init", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bastion.ErrInvalidConfig, err)
	}
	sweep, err := in.Bool("sweep", false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bastion.ErrInvalidConfig, err)
	}

	s := &Settings{
		Operation:        in.Get("operation"),
		LedgerPath:       in.Get("ledger_path"),
		CloudInitDir:     in.Get("cloud_init_dir"),
		MetricsFile:      in.Get("metrics_file"),
		OutputFile:       in.Env("GITHUB_OUTPUT"),
		KeyType:          in.Get("ssh_key_type"),
		WaitForCloudInit: wait,
		Sweep:            sweep,
		Mirror: MirrorSettings{
			Endpoint:  in.Get("ledger_s3_endpoint"),
			Bucket:    in.Get("ledger_s3_bucket"),
			Key:       in.Get("ledger_s3_key"),
			Region:    in.Get("ledger_s3_region"),
			AccessKey: in.GetOr("ledger_s3_access_key", "AWS_ACCESS_KEY_ID"),
			SecretKey: in.GetOr("ledger_s3_secret_key", "AWS_SECRET_ACCESS_KEY"),
		},
	}

	if s.LedgerPath == "" {
		dir := in.Env("RUNNER_TEMP")
		if dir == "" {
			dir = os.TempDir()
		}
		s.LedgerPath = filepath.Join(dir, naming.LedgerFile(bastionName))
	}
	if s.CloudInitDir == "" {
		if actionPath := in.Env("GITHUB_ACTION_PATH"); actionPath != "" {
			s.CloudInitDir = filepath.Join(actionPath, DefaultCloudInitDir)
		}
	}
	if s.Mirror.Enabled() && s.Mirror.Key == "" {
		s.Mirror.Key = "osbastion/" + naming.LedgerFile(bastionName)
	}

	switch s.Operation {
	case "", OperationCreate, OperationDestroy:
	default:
		return nil, fmt.Errorf("%w: operation must be %q or %q, got %q",
			bastion.ErrInvalidConfig, OperationCreate, OperationDestroy, s.Operation)
	}

	return s, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
