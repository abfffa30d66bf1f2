package hcloud

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

func firewallRecord(fw *hcloud.Firewall) bastion.Record {
	return bastion.Record{Kind: bastion.KindSecurityGroup, ProviderID: formatID(fw.ID), Name: fw.Name, CreatedAt: fw.Created}
}

// FindSecurityGroup returns the bastion firewall with the given name.
func (c *Client) FindSecurityGroup(ctx context.Context, name string) (*bastion.Record, error) {
	return (&FindOperation[*hcloud.Firewall]{
		Name:   name,
		Kind:   bastion.KindSecurityGroup,
		Get:    c.client.Firewall.GetByName,
		Record: firewallRecord,
	}).Execute(ctx)
}

// CreateSecurityGroup creates a firewall allowing TCP on opts.Port from the
// ingress CIDRs. It is attached to the server when the server is created.
func (c *Client) CreateSecurityGroup(ctx context.Context, opts cloud.SecurityGroupOpts) (bastion.Record, error) {
	return (&CreateOperation[*hcloud.Firewall, hcloud.FirewallCreateOpts]{
		Name:   opts.Name,
		Kind:   bastion.KindSecurityGroup,
		Create: c.createFirewall,
		CreateOptsMapper: func(context.Context) (hcloud.FirewallCreateOpts, error) {
			rule, err := ingressRule(opts)
			if err != nil {
				return hcloud.FirewallCreateOpts{}, err
			}
			return hcloud.FirewallCreateOpts{
				Name:   opts.Name,
				Labels: opts.Labels,
				Rules:  []hcloud.FirewallRule{rule},
			}, nil
		},
		ID: func(fw *hcloud.Firewall) int64 { return fw.ID },
	}).Execute(ctx, c)
}

func ingressRule(opts cloud.SecurityGroupOpts) (hcloud.FirewallRule, error) {
	sources := make([]net.IPNet, 0, len(opts.IngressCIDRs))
	for _, cidr := range opts.IngressCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return hcloud.FirewallRule{}, fmt.Errorf("%w: ingress CIDR %q: %v", bastion.ErrInvalidConfig, cidr, err)
		}
		sources = append(sources, *ipNet)
	}
	port := fmt.Sprintf("%d", opts.Port)
	return hcloud.FirewallRule{
		Direction:   hcloud.FirewallRuleDirectionIn,
		Protocol:    hcloud.FirewallRuleProtocolTCP,
		Port:        &port,
		SourceIPs:   sources,
		Description: hcloud.Ptr(opts.Description),
	}, nil
}

// EnsureIngressRules appends a rule for the ingress CIDRs the firewall
// does not yet allow on opts.Port. Existing rules are kept.
func (c *Client) EnsureIngressRules(ctx context.Context, id string, opts cloud.SecurityGroupOpts) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	want, err := ingressRule(opts)
	if err != nil {
		return err
	}

	fw, resp, err := c.client.Firewall.GetByID(ctx, n)
	if err != nil {
		return wrapErr("get", bastion.KindSecurityGroup, resp, err)
	}
	if fw == nil {
		return &bastion.ProviderError{Op: "get", Kind: bastion.KindSecurityGroup, StatusCode: http.StatusNotFound, Err: fmt.Errorf("firewall %s not found", id)}
	}

	allowed := make(map[string]bool)
	for _, r := range fw.Rules {
		if r.Direction != hcloud.FirewallRuleDirectionIn || r.Protocol != hcloud.FirewallRuleProtocolTCP {
			continue
		}
		if r.Port == nil || *r.Port != *want.Port {
			continue
		}
		for _, src := range r.SourceIPs {
			allowed[src.String()] = true
		}
	}
	var missing []net.IPNet
	for _, src := range want.SourceIPs {
		if !allowed[src.String()] {
			missing = append(missing, src)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	want.SourceIPs = missing

	actions, resp, err := c.client.Firewall.SetRules(ctx, fw, hcloud.FirewallSetRulesOpts{
		Rules: append(slices.Clone(fw.Rules), want),
	})
	if err != nil {
		return wrapErr("set rules of", bastion.KindSecurityGroup, resp, err)
	}
	if len(actions) > 0 {
		if err := c.client.Action.WaitFor(ctx, actions...); err != nil {
			return wrapErr("wait for rules of", bastion.KindSecurityGroup, nil, err)
		}
	}
	return nil
}

func (c *Client) createFirewall(ctx context.Context, opts hcloud.FirewallCreateOpts) (*CreateResult[*hcloud.Firewall], *hcloud.Response, error) {
	res, resp, err := c.client.Firewall.Create(ctx, opts)
	if err != nil {
		return nil, resp, err
	}
	return &CreateResult[*hcloud.Firewall]{
		Resource: res.Firewall,
		Actions:  res.Actions,
	}, resp, nil
}

// DeleteSecurityGroup deletes the firewall with the given ID.
func (c *Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	return (&DeleteOperation[*hcloud.Firewall]{
		ID:     id,
		Kind:   bastion.KindSecurityGroup,
		Get:    c.client.Firewall.Get,
		Delete: c.client.Firewall.Delete,
	}).Execute(ctx, c)
}
