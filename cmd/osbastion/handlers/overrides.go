package handlers

import "github.com/imamik/osbastion/internal/config"

// Overrides are command-line flags that take precedence over action inputs.
// Zero values leave the input-derived setting alone.
type Overrides struct {
	SpecFile     string
	LedgerPath   string
	MetricsFile  string
	CloudInitDir string
	KeyType      string
	Sweep        *bool
	Wait         *bool
}

func (o Overrides) apply(s *config.Settings) {
	if o.LedgerPath != "" {
		s.LedgerPath = o.LedgerPath
	}
	if o.MetricsFile != "" {
		s.MetricsFile = o.MetricsFile
	}
	if o.CloudInitDir != "" {
		s.CloudInitDir = o.CloudInitDir
	}
	if o.KeyType != "" {
		s.KeyType = o.KeyType
	}
	if o.Sweep != nil {
		s.Sweep = *o.Sweep
	}
	if o.Wait != nil {
		s.WaitForCloudInit = *o.Wait
	}
}

// specFile returns the spec file flag, falling back to the spec_file input.
func (o Overrides) specFile(in *config.Inputs) string {
	if o.SpecFile != "" {
		return o.SpecFile
	}
	return in.Get("spec_file")
}

func loadSettings(in *config.Inputs, bastionName string, o Overrides) (*config.Settings, error) {
	s, err := config.LoadSettings(in, bastionName)
	if err != nil {
		return nil, err
	}
	o.apply(s)
	return s, nil
}
