package hcloud

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

func serverRecord(s *hcloud.Server) bastion.Record {
	return bastion.Record{Kind: bastion.KindServer, ProviderID: formatID(s.ID), Name: s.Name, CreatedAt: s.Created}
}

// FindServer returns the server with the given name.
func (c *Client) FindServer(ctx context.Context, name string) (*bastion.Record, error) {
	return (&FindOperation[*hcloud.Server]{
		Name:   name,
		Kind:   bastion.KindServer,
		Get:    c.client.Server.GetByName,
		Record: serverRecord,
	}).Execute(ctx)
}

// CreateServer creates the bastion server with its firewall and SSH key attached.
func (c *Client) CreateServer(ctx context.Context, opts cloud.ServerOpts) (bastion.Record, error) {
	return (&CreateOperation[*hcloud.Server, hcloud.ServerCreateOpts]{
		Name: opts.Name,
		Kind: bastion.KindServer,
		Create: func(ctx context.Context, o hcloud.ServerCreateOpts) (*CreateResult[*hcloud.Server], *hcloud.Response, error) {
			res, resp, err := c.client.Server.Create(ctx, o)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.Server]{Resource: res.Server, Action: res.Action}, resp, nil
		},
		CreateOptsMapper: func(ctx context.Context) (hcloud.ServerCreateOpts, error) {
			return c.buildServerCreateOpts(ctx, opts)
		},
		ID: func(s *hcloud.Server) int64 { return s.ID },
	}).Execute(ctx, c)
}

// buildServerCreateOpts resolves all dependencies and builds server creation options.
func (c *Client) buildServerCreateOpts(ctx context.Context, opts cloud.ServerOpts) (hcloud.ServerCreateOpts, error) {
	serverType, _, err := c.client.ServerType.Get(ctx, opts.Flavor)
	if err != nil {
		return hcloud.ServerCreateOpts{}, wrapErr("resolve server type for", bastion.KindServer, nil, err)
	}
	if serverType == nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("%w: server type not found: %s", bastion.ErrInvalidConfig, opts.Flavor)
	}

	// Images exist per architecture; pick the one matching the server type.
	image, _, err := c.client.Image.GetForArchitecture(ctx, opts.Image, serverType.Architecture)
	if err != nil {
		return hcloud.ServerCreateOpts{}, wrapErr("resolve image for", bastion.KindServer, nil, err)
	}
	if image == nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("%w: image %s not found for %s", bastion.ErrInvalidConfig, opts.Image, serverType.Architecture)
	}

	keyID, err := parseID(opts.KeyName)
	if err != nil {
		key, _, kerr := c.client.SSHKey.GetByName(ctx, opts.KeyName)
		if kerr != nil {
			return hcloud.ServerCreateOpts{}, wrapErr("resolve ssh key for", bastion.KindServer, nil, kerr)
		}
		if key == nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("%w: ssh key not found: %s", bastion.ErrInvalidConfig, opts.KeyName)
		}
		keyID = key.ID
	}
	firewallID, err := parseID(opts.SecurityGroupID)
	if err != nil {
		return hcloud.ServerCreateOpts{}, err
	}

	createOpts := hcloud.ServerCreateOpts{
		Name:       opts.Name,
		ServerType: serverType,
		Image:      image,
		SSHKeys:    []*hcloud.SSHKey{{ID: keyID}},
		UserData:   opts.UserData,
		Labels:     opts.Labels,
		Firewalls:  []*hcloud.ServerCreateFirewall{{Firewall: hcloud.Firewall{ID: firewallID}}},
		PublicNet: &hcloud.ServerCreatePublicNet{
			EnableIPv4: true,
			EnableIPv6: true,
		},
	}

	if c.location != "" {
		loc, _, err := c.client.Location.Get(ctx, c.location)
		if err != nil {
			return hcloud.ServerCreateOpts{}, wrapErr("resolve location for", bastion.KindServer, nil, err)
		}
		if loc == nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("%w: location not found: %s", bastion.ErrInvalidConfig, c.location)
		}
		createOpts.Location = loc
	}

	if opts.Network != "" {
		network, _, err := c.client.Network.Get(ctx, opts.Network)
		if err != nil {
			return hcloud.ServerCreateOpts{}, wrapErr("resolve network for", bastion.KindServer, nil, err)
		}
		if network == nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("%w: network not found: %s", bastion.ErrInvalidConfig, opts.Network)
		}
		createOpts.Networks = []*hcloud.Network{network}
	}

	return createOpts, nil
}

// DeleteServer deletes the server and waits for the delete action, so the
// firewall and SSH key are free afterwards.
func (c *Client) DeleteServer(ctx context.Context, id string) error {
	return (&DeleteOperation[*hcloud.Server]{
		ID:   id,
		Kind: bastion.KindServer,
		Get:  c.client.Server.Get,
		Delete: func(ctx context.Context, server *hcloud.Server) (*hcloud.Response, error) {
			res, resp, err := c.client.Server.DeleteWithResult(ctx, server)
			if err != nil {
				return resp, err
			}
			return resp, c.client.Action.WaitFor(ctx, res.Action)
		},
	}).Execute(ctx, c)
}

// WaitUntilActive polls the server until it is running.
func (c *Client) WaitUntilActive(ctx context.Context, serverID string, timeout time.Duration) error {
	id, err := parseID(serverID)
	if err != nil {
		return err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.timeouts.ProbeInterval)
	defer ticker.Stop()

	var last error
	for {
		server, resp, err := c.client.Server.GetByID(ctx, id)
		switch {
		case err != nil && ctx.Err() == nil:
			last = wrapErr("get", bastion.KindServer, resp, err)
			if !bastion.IsRetryable(last) {
				return last
			}
		case err == nil && server == nil:
			return &bastion.ProviderError{Op: "wait", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s disappeared", serverID)}
		case err == nil && server.Status == hcloud.ServerStatusRunning:
			return nil
		case err == nil:
			last = fmt.Errorf("server status %s", server.Status)
		}

		select {
		case <-ctx.Done():
			return &bastion.ProvisionTimeoutError{Elapsed: time.Since(start), LastErr: last}
		case <-ticker.C:
		}
	}
}

// ServerAddress returns the server's floating IP if one is assigned,
// otherwise its primary public IPv4.
func (c *Client) ServerAddress(ctx context.Context, serverID string) (string, error) {
	id, err := parseID(serverID)
	if err != nil {
		return "", err
	}
	server, resp, err := c.client.Server.GetByID(ctx, id)
	if err != nil {
		return "", wrapErr("get address of", bastion.KindServer, resp, err)
	}
	if server == nil {
		return "", &bastion.ProviderError{Op: "get address of", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s not found", serverID)}
	}

	for _, ref := range server.PublicNet.FloatingIPs {
		fip, resp, err := c.client.FloatingIP.GetByID(ctx, ref.ID)
		if err != nil {
			return "", wrapErr("get address of", bastion.KindFloatingIP, resp, err)
		}
		if fip != nil && fip.IP != nil {
			return fip.IP.String(), nil
		}
	}
	if ip := server.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		return ip.String(), nil
	}
	return "", &bastion.ProviderError{Op: "get address of", Kind: bastion.KindServer, StatusCode: http.StatusNotFound, Err: fmt.Errorf("server %s has no public address", serverID)}
}
