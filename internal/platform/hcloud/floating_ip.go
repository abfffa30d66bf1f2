package hcloud

import (
	"context"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

func floatingIPRecord(f *hcloud.FloatingIP) bastion.Record {
	return bastion.Record{Kind: bastion.KindFloatingIP, ProviderID: formatID(f.ID), Name: f.Name, CreatedAt: f.Created}
}

// FindFloatingIP returns the floating IP with the given name.
func (c *Client) FindFloatingIP(ctx context.Context, name string) (*bastion.Record, error) {
	return (&FindOperation[*hcloud.FloatingIP]{
		Name:   name,
		Kind:   bastion.KindFloatingIP,
		Get:    c.client.FloatingIP.GetByName,
		Record: floatingIPRecord,
	}).Execute(ctx)
}

// CreateFloatingIP allocates an IPv4 floating IP assigned to the server.
// The external network has no meaning on Hetzner and is ignored.
func (c *Client) CreateFloatingIP(ctx context.Context, opts cloud.FloatingIPOpts) (bastion.Record, error) {
	return (&CreateOperation[*hcloud.FloatingIP, hcloud.FloatingIPCreateOpts]{
		Name: opts.Name,
		Kind: bastion.KindFloatingIP,
		Create: func(ctx context.Context, o hcloud.FloatingIPCreateOpts) (*CreateResult[*hcloud.FloatingIP], *hcloud.Response, error) {
			res, resp, err := c.client.FloatingIP.Create(ctx, o)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.FloatingIP]{Resource: res.FloatingIP, Action: res.Action}, resp, nil
		},
		CreateOptsMapper: func(context.Context) (hcloud.FloatingIPCreateOpts, error) {
			serverID, err := parseID(opts.ServerID)
			if err != nil {
				return hcloud.FloatingIPCreateOpts{}, err
			}
			return hcloud.FloatingIPCreateOpts{
				Name:   hcloud.Ptr(opts.Name),
				Type:   hcloud.FloatingIPTypeIPv4,
				Server: &hcloud.Server{ID: serverID},
				Labels: opts.Labels,
			}, nil
		},
		ID: func(f *hcloud.FloatingIP) int64 { return f.ID },
	}).Execute(ctx, c)
}

// DeleteFloatingIP deletes the floating IP with the given ID.
func (c *Client) DeleteFloatingIP(ctx context.Context, id string) error {
	return (&DeleteOperation[*hcloud.FloatingIP]{
		ID:     id,
		Kind:   bastion.KindFloatingIP,
		Get:    c.client.FloatingIP.Get,
		Delete: c.client.FloatingIP.Delete,
	}).Execute(ctx, c)
}
