package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
	"github.com/imamik/osbastion/internal/config"
)

// Client implements cloud.Client for OpenStack.
type Client struct {
	compute  *gophercloud.ServiceClient
	network  *gophercloud.ServiceClient
	image    *gophercloud.ServiceClient
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

// WithServiceClients replaces the service clients (useful for testing).
func WithServiceClients(compute, network, image *gophercloud.ServiceClient) ClientOption {
	return func(c *Client) {
		c.compute = compute
		c.network = network
		c.image = image
	}
}

// New authenticates against Keystone and builds the compute, network and
// image service clients for the spec's region.
func New(ctx context.Context, spec *bastion.Spec, opts ...ClientOption) (*Client, error) {
	c := &Client{timeouts: config.LoadTimeouts()}
	for _, opt := range opts {
		opt(c)
	}
	if c.compute != nil {
		return c, nil
	}

	provider, err := openstack.AuthenticatedClient(ctx, AuthOptions(spec))
	if err != nil {
		return nil, wrapErr("authenticate", "", err)
	}

	eo := gophercloud.EndpointOpts{Region: spec.Region}
	if c.compute, err = openstack.NewComputeV2(provider, eo); err != nil {
		return nil, fmt.Errorf("%w: compute endpoint: %v", bastion.ErrInvalidConfig, err)
	}
	if c.network, err = openstack.NewNetworkV2(provider, eo); err != nil {
		return nil, fmt.Errorf("%w: network endpoint: %v", bastion.ErrInvalidConfig, err)
	}
	if c.image, err = openstack.NewImageV2(provider, eo); err != nil {
		return nil, fmt.Errorf("%w: image endpoint: %v", bastion.ErrInvalidConfig, err)
	}
	return c, nil
}

// AuthOptions maps the spec's credentials to Keystone options.
// Application credentials carry their own scope, so the project is only
// set for password authentication.
func AuthOptions(spec *bastion.Spec) gophercloud.AuthOptions {
	creds := spec.Credentials
	opts := gophercloud.AuthOptions{
		IdentityEndpoint: spec.AuthURL,
		AllowReauth:      true,
	}
	if creds.ApplicationCredentialID != "" {
		opts.ApplicationCredentialID = creds.ApplicationCredentialID
		opts.ApplicationCredentialSecret = creds.ApplicationCredentialSecret
		return opts
	}
	opts.Username = creds.Username
	opts.Password = creds.Password
	opts.DomainName = creds.UserDomainName
	opts.TenantID = spec.ProjectID
	return opts
}

// Provider returns the provider name recorded in ledgers.
func (c *Client) Provider() string { return bastion.ProviderOpenStack }
