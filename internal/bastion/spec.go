package bastion

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Credentials holds the OpenStack authentication material.
// Either an application credential or a username/password pair is required.
type Credentials struct {
	ApplicationCredentialID     string `yaml:"application_credential_id,omitempty"`
	ApplicationCredentialSecret string `yaml:"application_credential_secret,omitempty"`
	Username                    string `yaml:"username,omitempty"`
	Password                    string `yaml:"password,omitempty"`
	UserDomainName              string `yaml:"user_domain_name,omitempty"`
	Token                       string `yaml:"token,omitempty"` // hcloud API token
}

// Spec is the immutable input of a single bastion run.
type Spec struct {
	Name            string            `yaml:"name"`
	Provider        string            `yaml:"provider"`
	AuthURL         string            `yaml:"auth_url"`
	ProjectID       string            `yaml:"project_id"`
	Region          string            `yaml:"region"`
	Credentials     Credentials       `yaml:"credentials"`
	Image           string            `yaml:"image"`
	Flavor          string            `yaml:"flavor"`
	Network         string            `yaml:"network"`
	ExternalNetwork string            `yaml:"external_network"`
	SSHPublicKey    string            `yaml:"ssh_public_key"`
	SSHUser         string            `yaml:"ssh_user"`
	AllowedCIDRs    []string          `yaml:"allowed_cidrs"`
	Tags            map[string]string `yaml:"tags"`
}

// Provider names.
const (
	ProviderOpenStack = "openstack"
	ProviderHetzner   = "hetzner"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,48}[a-z0-9])?$`)

// Validate checks the fields every provider needs. It returns an error
// wrapping ErrInvalidConfig describing every problem found.
func (s *Spec) Validate() error {
	problems := s.accessProblems()

	if s.Image == "" {
		problems = append(problems, "image is required")
	}
	if s.Flavor == "" {
		problems = append(problems, "flavor is required")
	}
	if s.Provider == ProviderOpenStack {
		if s.Network == "" {
			problems = append(problems, "network is required")
		}
		if s.ExternalNetwork == "" {
			problems = append(problems, "external_network is required")
		}
	}
	for _, cidr := range s.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			problems = append(problems, fmt.Sprintf("allowed CIDR %q is invalid", cidr))
		}
	}

	return problemsErr(problems)
}

// ValidateAccess checks only what is needed to reach the provider and find
// resources by name, which is all teardown requires.
func (s *Spec) ValidateAccess() error {
	return problemsErr(s.accessProblems())
}

func (s *Spec) accessProblems() []string {
	var problems []string

	if !namePattern.MatchString(s.Name) {
		problems = append(problems, fmt.Sprintf("name %q must be 1-50 lowercase alphanumerics or dashes", s.Name))
	}
	if s.Region == "" {
		problems = append(problems, "region is required")
	}

	switch s.Provider {
	case ProviderOpenStack:
		if s.AuthURL == "" {
			problems = append(problems, "auth_url is required")
		}
		if s.ProjectID == "" {
			problems = append(problems, "project_id is required")
		}
		c := s.Credentials
		hasAppCred := c.ApplicationCredentialID != "" && c.ApplicationCredentialSecret != ""
		hasPassword := c.Username != "" && c.Password != ""
		if !hasAppCred && !hasPassword {
			problems = append(problems, "either an application credential or username/password is required")
		}
	case ProviderHetzner:
		if s.Credentials.Token == "" {
			problems = append(problems, "hetzner token is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported provider %q", s.Provider))
	}
	return problems
}

func problemsErr(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IngressCIDRs returns the allowed ingress ranges, defaulting to everywhere.
func (s *Spec) IngressCIDRs() []string {
	if len(s.AllowedCIDRs) == 0 {
		return []string{"0.0.0.0/0"}
	}
	return s.AllowedCIDRs
}

// LoginUser returns the SSH user for the bastion image.
func (s *Spec) LoginUser() string {
	if s.SSHUser == "" {
		return "ubuntu"
	}
	return s.SSHUser
}
