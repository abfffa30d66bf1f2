package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

// FindFloatingIP looks a floating IP up by the name kept in its description.
func (c *Client) FindFloatingIP(ctx context.Context, name string) (*bastion.Record, error) {
	pages, err := floatingips.List(c.network, floatingips.ListOpts{Description: name}).AllPages(ctx)
	if err != nil {
		return nil, wrapErr("find", bastion.KindFloatingIP, err)
	}
	found, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return nil, wrapErr("find", bastion.KindFloatingIP, err)
	}
	for _, f := range found {
		if f.Description == name {
			rec := bastion.Record{Kind: bastion.KindFloatingIP, ProviderID: f.ID, Name: name, CreatedAt: f.CreatedAt}
			return &rec, nil
		}
	}
	return nil, nil
}

// CreateFloatingIP allocates an address on the external network and binds
// it to the server's first port in one call.
func (c *Client) CreateFloatingIP(ctx context.Context, opts cloud.FloatingIPOpts) (bastion.Record, error) {
	extID, err := c.resolveNetwork(ctx, opts.ExternalNetwork)
	if err != nil {
		return bastion.Record{}, err
	}
	portID, err := c.serverPort(ctx, opts.ServerID)
	if err != nil {
		return bastion.Record{}, err
	}

	f, err := floatingips.Create(ctx, c.network, floatingips.CreateOpts{
		FloatingNetworkID: extID,
		PortID:            portID,
		Description:       opts.Name,
	}).Extract()
	if err != nil {
		return bastion.Record{}, wrapErr("create", bastion.KindFloatingIP, err)
	}
	return cloud.NewRecord(bastion.KindFloatingIP, f.ID, opts.Name), nil
}

// DeleteFloatingIP releases a floating IP. An absent one counts as released.
func (c *Client) DeleteFloatingIP(ctx context.Context, id string) error {
	return ignoreNotFound("delete", bastion.KindFloatingIP, floatingips.Delete(ctx, c.network, id).ExtractErr())
}

// floatingAddress returns the floating IP Neutron has bound to any port
// of the server, or "" when there is none.
func (c *Client) floatingAddress(ctx context.Context, serverID string) (string, error) {
	found, err := c.serverPorts(ctx, serverID)
	if err != nil {
		return "", err
	}
	for _, p := range found {
		pages, err := floatingips.List(c.network, floatingips.ListOpts{PortID: p.ID}).AllPages(ctx)
		if err != nil {
			return "", wrapErr("get address of", bastion.KindServer, err)
		}
		fips, err := floatingips.ExtractFloatingIPs(pages)
		if err != nil {
			return "", wrapErr("get address of", bastion.KindServer, err)
		}
		for _, f := range fips {
			if f.FloatingIP != "" {
				return f.FloatingIP, nil
			}
		}
	}
	return "", nil
}

func (c *Client) serverPorts(ctx context.Context, serverID string) ([]ports.Port, error) {
	pages, err := ports.List(c.network, ports.ListOpts{DeviceID: serverID}).AllPages(ctx)
	if err != nil {
		return nil, wrapErr("list ports of", bastion.KindServer, err)
	}
	found, err := ports.ExtractPorts(pages)
	if err != nil {
		return nil, wrapErr("list ports of", bastion.KindServer, err)
	}
	return found, nil
}

func (c *Client) serverPort(ctx context.Context, serverID string) (string, error) {
	found, err := c.serverPorts(ctx, serverID)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		// Nova attaches the port asynchronously; report it as transient.
		return "", &bastion.ProviderError{Op: "list ports of", Kind: bastion.KindServer, StatusCode: 409, Err: fmt.Errorf("server %s has no port yet", serverID)}
	}
	return found[0].ID, nil
}
