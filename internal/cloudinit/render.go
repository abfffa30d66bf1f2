package cloudinit

import (
	"fmt"
	"net"
	"path"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/imamik/osbastion/internal/bastion"
)

// Paths on the bastion.
const (
	StateDir   = "/var/lib/osbastion"
	ScriptDir  = StateDir + "/scripts"
	MarkerPath = StateDir + "/cloud-init.done"
	sshdConfig = "/etc/ssh/sshd_config.d/50-osbastion.conf"
)

// MaxUserDataSize is the largest document Render returns. Nova rejects
// larger user-data once base64 encoded.
const MaxUserDataSize = 48 * 1024

// Header starts every rendered document.
const Header = "#cloud-config\n"

// Config is the input of Render.
type Config struct {
	Hostname       string
	User           string
	AuthorizedKeys []string
	AllowedCIDRs   []string
	Packages       []string
	Fragments      []Fragment
}

type user struct {
	Name              string   `yaml:"name"`
	Shell             string   `yaml:"shell"`
	Sudo              string   `yaml:"sudo"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

type document struct {
	Hostname      string      `yaml:"hostname,omitempty"`
	SSHPwauth     bool        `yaml:"ssh_pwauth"`
	DisableRoot   bool        `yaml:"disable_root"`
	Users         []user      `yaml:"users"`
	PackageUpdate bool        `yaml:"package_update"`
	Packages      []string    `yaml:"packages,omitempty"`
	WriteFiles    []WriteFile `yaml:"write_files"`
	Runcmd        []string    `yaml:"runcmd"`
}

// Render produces the user-data document. Invalid keys, CIDRs, script names
// or empty scripts fail with bastion.ErrInvalidConfig.
func Render(cfg Config) (string, error) {
	keys, err := normalizeKeys(cfg.AuthorizedKeys)
	if err != nil {
		return "", err
	}
	if cfg.User == "" {
		return "", fmt.Errorf("%w: login user is required", bastion.ErrInvalidConfig)
	}
	for _, cidr := range cfg.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return "", fmt.Errorf("%w: allowed CIDR %q is invalid", bastion.ErrInvalidConfig, cidr)
		}
	}

	doc := document{
		Hostname:    cfg.Hostname,
		SSHPwauth:   false,
		DisableRoot: true,
		Users: []user{{
			Name:              cfg.User,
			Shell:             "/bin/bash",
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			LockPasswd:        true,
			SSHAuthorizedKeys: keys,
		}},
		WriteFiles: []WriteFile{{
			Path:        sshdConfig,
			Content:     sshdSettings(cfg.User, cfg.AllowedCIDRs),
			Owner:       "root:root",
			Permissions: "0644",
		}},
		Runcmd: []string{"systemctl reload ssh || systemctl reload sshd || true"},
	}

	packages := append([]string(nil), cfg.Packages...)
	for _, f := range cfg.Fragments {
		packages = append(packages, f.Packages...)
		for _, wf := range f.WriteFiles {
			if !path.IsAbs(wf.Path) {
				return "", fmt.Errorf("%w: fragment %s: write_files path %q must be absolute", bastion.ErrInvalidConfig, f.Source, wf.Path)
			}
			doc.WriteFiles = append(doc.WriteFiles, wf)
		}
		doc.Runcmd = append(doc.Runcmd, f.Runcmd...)

		if f.Script != nil {
			if err := validateScript(*f.Script); err != nil {
				return "", err
			}
			target := ScriptDir + "/" + f.Script.Name
			doc.WriteFiles = append(doc.WriteFiles, WriteFile{
				Path:        target,
				Content:     f.Script.Body,
				Owner:       "root:root",
				Permissions: "0755",
			})
			doc.Runcmd = append(doc.Runcmd, target)
		}
	}
	doc.Packages = dedupeSorted(packages)
	doc.PackageUpdate = len(doc.Packages) > 0

	// Must stay last: readiness probes wait for the marker.
	doc.Runcmd = append(doc.Runcmd, fmt.Sprintf("mkdir -p %s && date -u +%%FT%%TZ > %s", StateDir, MarkerPath))

	body, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode cloud-config: %w", err)
	}
	out := Header + string(body)
	if len(out) > MaxUserDataSize {
		return "", fmt.Errorf("%w: user-data is %d bytes, limit is %d", bastion.ErrInvalidConfig, len(out), MaxUserDataSize)
	}
	return out, nil
}

// normalizeKeys parses every key and re-serialises it with its comment,
// dropping duplicates.
func normalizeKeys(raw []string) ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("%w: malformed SSH public key: %v", bastion.ErrInvalidConfig, err)
		}
		key := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
		if seen[key] {
			continue
		}
		seen[key] = true
		if comment != "" {
			key += " " + comment
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one SSH public key is required", bastion.ErrInvalidConfig)
	}
	return keys, nil
}

func validateScript(s Script) error {
	switch {
	case s.Name == "" || strings.HasPrefix(s.Name, "."):
		return fmt.Errorf("%w: script name %q is invalid", bastion.ErrInvalidConfig, s.Name)
	case strings.ContainsAny(s.Name, `/\`):
		return fmt.Errorf("%w: script name %q must not contain path separators", bastion.ErrInvalidConfig, s.Name)
	case strings.TrimSpace(s.Body) == "":
		return fmt.Errorf("%w: script %s is empty", bastion.ErrInvalidConfig, s.Name)
	}
	return nil
}

// sshdSettings hardens sshd for jump-host use: keys only, forwarding on,
// and logins limited to the allowed ranges when any are given.
func sshdSettings(login string, cidrs []string) string {
	var b strings.Builder
	b.WriteString("PasswordAuthentication no\n")
	b.WriteString("KbdInteractiveAuthentication no\n")
	b.WriteString("PermitRootLogin no\n")
	b.WriteString("AllowTcpForwarding yes\n")
	b.WriteString("GatewayPorts no\n")
	b.WriteString("X11Forwarding no\n")
	if len(cidrs) > 0 {
		b.WriteString("AllowUsers")
		for _, cidr := range cidrs {
			fmt.Fprintf(&b, " %s@%s", login, cidr)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
