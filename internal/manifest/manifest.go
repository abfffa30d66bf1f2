package manifest

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/config"
)

// FileName is the manifest file at the action root.
const FileName = "action.yaml"

// RequiredKeys are the top-level keys every manifest must define.
var RequiredKeys = []string{"name", "description", "inputs", "runs"}

// RequiredInputs are the inputs the bastion workflow cannot run without.
var RequiredInputs = []string{
	"operation",
	"openstack_auth_url",
	"openstack_project_id",
	"openstack_region",
}

// Operations lists the values accepted by the operation input.
var Operations = []string{config.OperationCreate, config.OperationDestroy}

// Action is the typed form of action.yaml.
type Action struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Author      string            `yaml:"author,omitempty"`
	Branding    map[string]string `yaml:"branding,omitempty"`
	Inputs      map[string]Input  `yaml:"inputs"`
	Outputs     map[string]Output `yaml:"outputs,omitempty"`
	Runs        Runs              `yaml:"runs"`
}

// Input is one action input.
type Input struct {
	Description        string `yaml:"description"`
	Required           bool   `yaml:"required,omitempty"`
	Default            string `yaml:"default,omitempty"`
	DeprecationMessage string `yaml:"deprecationMessage,omitempty"`
}

// Output is one action output.
type Output struct {
	Description string `yaml:"description"`
	Value       string `yaml:"value,omitempty"`
}

// Runs is the entrypoint definition.
type Runs struct {
	Using string `yaml:"using"`
	Main  string `yaml:"main,omitempty"`
	Image string `yaml:"image,omitempty"`
	Steps []Step `yaml:"steps,omitempty"`
}

// Step is one step of a composite action.
type Step struct {
	Name  string            `yaml:"name,omitempty"`
	ID    string            `yaml:"id,omitempty"`
	If    string            `yaml:"if,omitempty"`
	Shell string            `yaml:"shell,omitempty"`
	Run   string            `yaml:"run,omitempty"`
	Uses  string            `yaml:"uses,omitempty"`
	With  map[string]string `yaml:"with,omitempty"`
	Env   map[string]string `yaml:"env,omitempty"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Action, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Parse decodes and validates a manifest document. Every failure wraps
// bastion.ErrInvalidConfig.
func Parse(data []byte) (*Action, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: manifest is not valid YAML: %v", bastion.ErrInvalidConfig, err)
	}
	if err := checkKeys(&root); err != nil {
		return nil, err
	}

	var a Action
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", bastion.ErrInvalidConfig, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// checkKeys reports missing top-level keys. It works on the node tree so an
// empty value ("inputs: {}") still counts as present.
func checkKeys(root *yaml.Node) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: manifest must be a mapping", bastion.ErrInvalidConfig)
	}
	doc := root.Content[0]
	present := make(map[string]bool, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		present[doc.Content[i].Value] = true
	}

	var missing []string
	for _, key := range RequiredKeys {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: manifest is missing top-level keys %v", bastion.ErrInvalidConfig, missing)
	}
	return nil
}

// Validate checks the decoded manifest.
func (a *Action) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: manifest name is empty", bastion.ErrInvalidConfig)
	}
	if a.Description == "" {
		return fmt.Errorf("%w: manifest description is empty", bastion.ErrInvalidConfig)
	}

	var missing []string
	for _, name := range RequiredInputs {
		if _, ok := a.Inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: manifest is missing required inputs %v", bastion.ErrInvalidConfig, missing)
	}

	if def := a.Inputs["operation"].Default; def != "" && !slices.Contains(Operations, def) {
		return fmt.Errorf("%w: operation default %q is not one of %v", bastion.ErrInvalidConfig, def, Operations)
	}

	switch a.Runs.Using {
	case "composite":
		if len(a.Runs.Steps) == 0 {
			return fmt.Errorf("%w: composite action has no steps", bastion.ErrInvalidConfig)
		}
		for i, s := range a.Runs.Steps {
			if s.Run == "" && s.Uses == "" {
				return fmt.Errorf("%w: step %d needs run or uses", bastion.ErrInvalidConfig, i+1)
			}
			if s.Run != "" && s.Shell == "" {
				return fmt.Errorf("%w: step %d runs a command without a shell", bastion.ErrInvalidConfig, i+1)
			}
		}
	case "docker":
		if a.Runs.Image == "" {
			return fmt.Errorf("%w: docker action has no image", bastion.ErrInvalidConfig)
		}
	case "":
		return fmt.Errorf("%w: runs.using is empty", bastion.ErrInvalidConfig)
	default:
		if a.Runs.Main == "" {
			return fmt.Errorf("%w: %s action has no main entrypoint", bastion.ErrInvalidConfig, a.Runs.Using)
		}
	}
	return nil
}

// Defaults returns the default value of every input that has one.
func (a *Action) Defaults() map[string]string {
	out := make(map[string]string)
	for name, in := range a.Inputs {
		if in.Default != "" {
			out[name] = in.Default
		}
	}
	return out
}

// CheckInputs verifies that every input marked required resolves to a
// value, either from the environment or the manifest default, and that
// operation is a known value.
func (a *Action) CheckInputs(in *config.Inputs) error {
	var missing []string
	for _, name := range a.InputNames() {
		if a.Inputs[name].Required && in.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required inputs not set: %v", bastion.ErrInvalidConfig, missing)
	}
	if op := in.Get("operation"); op != "" && !slices.Contains(Operations, op) {
		return fmt.Errorf("%w: operation must be one of %v, got %q", bastion.ErrInvalidConfig, Operations, op)
	}
	return nil
}

// InputNames returns the input names in sorted order.
func (a *Action) InputNames() []string {
	names := make([]string, 0, len(a.Inputs))
	for name := range a.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
