package cloudinit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imamik/osbastion/internal/bastion"
)

// WriteFile is a cloud-init write_files entry.
type WriteFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Owner       string `yaml:"owner,omitempty"`
	Permissions string `yaml:"permissions,omitempty"`
}

// Fragment is a partial cloud-config contributed by a file in the
// cloud-init directory. YAML fragments may set packages, write_files and
// runcmd; shell fragments become first-boot scripts.
type Fragment struct {
	Source     string      `yaml:"-"`
	Packages   []string    `yaml:"packages"`
	WriteFiles []WriteFile `yaml:"write_files"`
	Runcmd     []string    `yaml:"runcmd"`
	Script     *Script     `yaml:"-"`
}

// Script is a first-boot script, run once in name order.
type Script struct {
	Name string
	Body string
}

// LoadFragments reads every *.yaml, *.yml and *.sh file in dir, sorted by
// file name. Other files and subdirectories are ignored. A missing
// directory yields no fragments.
func LoadFragments(dir string) ([]Fragment, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cloud-init directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".sh":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	fragments := make([]Fragment, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fragment %s: %w", name, err)
		}
		f, err := parseFragment(name, data)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}

func parseFragment(name string, data []byte) (Fragment, error) {
	if strings.HasSuffix(name, ".sh") {
		return Fragment{Source: name, Script: &Script{Name: name, Body: string(data)}}, nil
	}

	var f Fragment
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fragment{}, fmt.Errorf("%w: cloud-init fragment %s: %v", bastion.ErrInvalidConfig, name, err)
	}
	f.Source = name
	return f, nil
}
