package hcloud

import (
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/config"
)

// Client implements cloud.Client using the Hetzner Cloud API.
type Client struct {
	client   *hcloud.Client
	location string
	timeouts *config.Timeouts
}

var _ cloud.Client = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeouts sets custom timeouts for the client.
func WithTimeouts(t *config.Timeouts) ClientOption {
	return func(c *Client) {
		c.timeouts = t
	}
}

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(hc *hcloud.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// New creates a Client for the spec. The spec's region is the Hetzner location.
func New(spec *bastion.Spec, opts ...ClientOption) *Client {
	c := &Client{
		client:   hcloud.NewClient(hcloud.WithToken(spec.Credentials.Token), hcloud.WithApplication("osbastion", "")),
		location: spec.Region,
		timeouts: config.LoadTimeouts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Provider() string { return bastion.ProviderHetzner }
