package hcloud

import (
	"context"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

func sshKeyRecord(k *hcloud.SSHKey) bastion.Record {
	return bastion.Record{Kind: bastion.KindKeypair, ProviderID: formatID(k.ID), Name: k.Name, CreatedAt: k.Created}
}

// FindKeypair returns the SSH key with the given name.
func (c *Client) FindKeypair(ctx context.Context, name string) (*bastion.Record, error) {
	return (&FindOperation[*hcloud.SSHKey]{
		Name:   name,
		Kind:   bastion.KindKeypair,
		Get:    c.client.SSHKey.GetByName,
		Record: sshKeyRecord,
	}).Execute(ctx)
}

// CreateKeypair uploads the bastion's public key.
func (c *Client) CreateKeypair(ctx context.Context, opts cloud.KeypairOpts) (bastion.Record, error) {
	return (&CreateOperation[*hcloud.SSHKey, hcloud.SSHKeyCreateOpts]{
		Name: opts.Name,
		Kind: bastion.KindKeypair,
		Create: func(ctx context.Context, o hcloud.SSHKeyCreateOpts) (*CreateResult[*hcloud.SSHKey], *hcloud.Response, error) {
			key, resp, err := c.client.SSHKey.Create(ctx, o)
			if err != nil {
				return nil, resp, err
			}
			return &CreateResult[*hcloud.SSHKey]{Resource: key}, resp, nil
		},
		CreateOptsMapper: func(context.Context) (hcloud.SSHKeyCreateOpts, error) {
			return hcloud.SSHKeyCreateOpts{Name: opts.Name, PublicKey: opts.PublicKey, Labels: opts.Labels}, nil
		},
		ID: func(k *hcloud.SSHKey) int64 { return k.ID },
	}).Execute(ctx, c)
}

// DeleteKeypair deletes the SSH key with the given ID.
func (c *Client) DeleteKeypair(ctx context.Context, id string) error {
	return (&DeleteOperation[*hcloud.SSHKey]{
		ID:     id,
		Kind:   bastion.KindKeypair,
		Get:    c.client.SSHKey.Get,
		Delete: c.client.SSHKey.Delete,
	}).Execute(ctx, c)
}
