package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

// FindKeypair looks a keypair up by name.
func (c *Client) FindKeypair(ctx context.Context, name string) (*bastion.Record, error) {
	kp, err := keypairs.Get(ctx, c.compute, name, keypairs.GetOpts{}).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, 404) {
			return nil, nil
		}
		return nil, wrapErr("find", bastion.KindKeypair, err)
	}
	rec := bastion.Record{Kind: bastion.KindKeypair, ProviderID: kp.Name, Name: kp.Name}
	return &rec, nil
}

// CreateKeypair imports the public key under opts.Name.
func (c *Client) CreateKeypair(ctx context.Context, opts cloud.KeypairOpts) (bastion.Record, error) {
	kp, err := keypairs.Create(ctx, c.compute, keypairs.CreateOpts{
		Name:      opts.Name,
		PublicKey: opts.PublicKey,
	}).Extract()
	if err != nil {
		return bastion.Record{}, wrapErr("create", bastion.KindKeypair, err)
	}
	return cloud.NewRecord(bastion.KindKeypair, kp.Name, kp.Name), nil
}

// DeleteKeypair deletes a keypair. An absent one counts as deleted.
func (c *Client) DeleteKeypair(ctx context.Context, id string) error {
	return ignoreNotFound("delete", bastion.KindKeypair, keypairs.Delete(ctx, c.compute, id, keypairs.DeleteOpts{}).ExtractErr())
}
