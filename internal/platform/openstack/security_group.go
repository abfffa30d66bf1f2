package openstack

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

// FindSecurityGroup looks a security group up by exact name.
func (c *Client) FindSecurityGroup(ctx context.Context, name string) (*bastion.Record, error) {
	pages, err := groups.List(c.network, groups.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, wrapErr("find", bastion.KindSecurityGroup, err)
	}
	found, err := groups.ExtractGroups(pages)
	if err != nil {
		return nil, wrapErr("find", bastion.KindSecurityGroup, err)
	}
	for _, g := range found {
		if g.Name == name {
			rec := bastion.Record{Kind: bastion.KindSecurityGroup, ProviderID: g.ID, Name: g.Name, CreatedAt: g.CreatedAt}
			return &rec, nil
		}
	}
	return nil, nil
}

// CreateSecurityGroup creates the group and its ingress rules. If a rule
// fails the group is removed again so the call leaves nothing behind.
func (c *Client) CreateSecurityGroup(ctx context.Context, opts cloud.SecurityGroupOpts) (bastion.Record, error) {
	g, err := groups.Create(ctx, c.network, groups.CreateOpts{
		Name:        opts.Name,
		Description: opts.Description,
	}).Extract()
	if err != nil {
		return bastion.Record{}, wrapErr("create", bastion.KindSecurityGroup, err)
	}

	for _, cidr := range opts.IngressCIDRs {
		if err := c.createRule(ctx, g.ID, opts.Port, cidr); err != nil {
			if delErr := groups.Delete(ctx, c.network, g.ID).ExtractErr(); delErr != nil {
				err = errors.Join(err, fmt.Errorf("remove half-created security group %s: %w", g.ID, delErr))
			}
			return bastion.Record{}, err
		}
	}

	return cloud.NewRecord(bastion.KindSecurityGroup, g.ID, g.Name), nil
}

// EnsureIngressRules creates the TCP ingress rules of opts that the group
// does not already carry. Existing rules are left alone.
func (c *Client) EnsureIngressRules(ctx context.Context, id string, opts cloud.SecurityGroupOpts) error {
	pages, err := rules.List(c.network, rules.ListOpts{
		SecGroupID: id,
		Direction:  string(rules.DirIngress),
	}).AllPages(ctx)
	if err != nil {
		return wrapErr("list rules of", bastion.KindSecurityGroup, err)
	}
	existing, err := rules.ExtractRules(pages)
	if err != nil {
		return wrapErr("list rules of", bastion.KindSecurityGroup, err)
	}

	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.Protocol == string(rules.ProtocolTCP) && r.PortRangeMin <= opts.Port && opts.Port <= r.PortRangeMax {
			have[canonicalCIDR(r.RemoteIPPrefix)] = true
		}
	}
	for _, cidr := range opts.IngressCIDRs {
		if have[canonicalCIDR(cidr)] {
			continue
		}
		if err := c.createRule(ctx, id, opts.Port, cidr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) createRule(ctx context.Context, groupID string, port int, cidr string) error {
	ether := rules.EtherType4
	if ip, _, err := net.ParseCIDR(cidr); err == nil && ip.To4() == nil {
		ether = rules.EtherType6
	}
	_, err := rules.Create(ctx, c.network, rules.CreateOpts{
		SecGroupID:     groupID,
		Direction:      rules.DirIngress,
		EtherType:      ether,
		Protocol:       rules.ProtocolTCP,
		PortRangeMin:   port,
		PortRangeMax:   port,
		RemoteIPPrefix: cidr,
	}).Extract()
	if err != nil {
		return wrapErr("create rule for", bastion.KindSecurityGroup, err)
	}
	return nil
}

// canonicalCIDR masks the host bits, as Neutron does when storing a prefix.
func canonicalCIDR(cidr string) string {
	if _, n, err := net.ParseCIDR(cidr); err == nil {
		return n.String()
	}
	return cidr
}

// DeleteSecurityGroup deletes a security group. An absent one counts as deleted.
func (c *Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	return ignoreNotFound("delete", bastion.KindSecurityGroup, groups.Delete(ctx, c.network, id).ExtractErr())
}
