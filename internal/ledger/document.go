package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/imamik/osbastion/internal/bastion"
)

// Version is the document format written by this package.
const Version = 1

// Document is the on-disk ledger.
type Document struct {
	Version        int              `json:"version"`
	RunID          string           `json:"run_id"`
	Bastion        string           `json:"bastion"`
	Provider       string           `json:"provider"`
	Region         string           `json:"region,omitempty"`
	State          bastion.State    `json:"state"`
	Address        string           `json:"address,omitempty"`
	PrivateKeyPath string           `json:"private_key_path,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Resources      []bastion.Record `json:"resources"`
}

func (d *Document) clone() Document {
	c := *d
	c.Resources = append([]bastion.Record(nil), d.Resources...)
	return c
}

// Decode parses and checks a ledger document.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}
	for i, r := range doc.Resources {
		if !r.Kind.Valid() || r.ProviderID == "" {
			return nil, fmt.Errorf("%w: resource %d (%s %q) is incomplete", ErrCorrupt, i, r.Kind, r.ProviderID)
		}
	}
	if doc.Resources == nil {
		doc.Resources = []bastion.Record{}
	}
	return &doc, nil
}

// Encode serialises the document with a trailing newline.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger: %w", err)
	}
	return append(data, '\n'), nil
}
