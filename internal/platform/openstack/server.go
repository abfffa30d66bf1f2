package openstack

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud"
)

// Nova server statuses used by the lifecycle.
const (
	statusActive = "ACTIVE"
	statusError  = "ERROR"
)

// FindServer looks a server up by exact name.
func (c *Client) FindServer(ctx context.Context, name string) (*bastion.Record, error) {
	// Nova filters names by regular expression.
	pages, err := servers.List(c.compute, servers.ListOpts{Name: "^" + regexp.QuoteMeta(name) + "$"}).AllPages(ctx)
	if err != nil {
		return nil, wrapErr("find", bastion.KindServer, err)
	}
	found, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, wrapErr("find", bastion.KindServer, err)
	}
	for _, s := range found {
		if s.Name == name {
			rec := bastion.Record{Kind: bastion.KindServer, ProviderID: s.ID, Name: s.Name, CreatedAt: s.Created}
			return &rec, nil
		}
	}
	return nil, nil
}

// CreateServer boots a server from the resolved image, flavor and network.
func (c *Client) CreateServer(ctx context.Context, opts cloud.ServerOpts) (bastion.Record, error) {
	imageID, err := c.resolveImage(ctx, opts.Image)
	if err != nil {
		return bastion.Record{}, err
	}
	flavorID, err := c.resolveFlavor(ctx, opts.Flavor)
	if err != nil {
		return bastion.Record{}, err
	}
	networkID, err := c.resolveNetwork(ctx, opts.Network)
	if err != nil {
		return bastion.Record{}, err
	}

	create := keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:           opts.Name,
			ImageRef:       imageID,
			FlavorRef:      flavorID,
			SecurityGroups: []string{opts.SecurityGroupID},
			Networks:       []servers.Network{{UUID: networkID}},
			UserData:       []byte(opts.UserData),
			Metadata:       opts.Labels,
		},
		KeyName: opts.KeyName,
	}
	s, err := servers.Create(ctx, c.compute, create, nil).Extract()
	if err != nil {
		return bastion.Record{}, wrapErr("create", bastion.KindServer, err)
	}
	return cloud.NewRecord(bastion.KindServer, s.ID, opts.Name), nil
}

// DeleteServer deletes a server and waits until Nova no longer reports it.
func (c *Client) DeleteServer(ctx context.Context, id string) error {
	if err := servers.Delete(ctx, c.compute, id).ExtractErr(); err != nil {
		return ignoreNotFound("delete", bastion.KindServer, err)
	}
	return c.waitGone(ctx, id)
}

// waitGone blocks until Nova no longer reports the server, so that the
// security group and keypair can be released afterwards.
func (c *Client) waitGone(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	ticker := time.NewTicker(c.timeouts.ProbeInterval)
	defer ticker.Stop()
	for {
		_, err := servers.Get(ctx, c.compute, id).Extract()
		if gophercloud.ResponseCodeIs(err, 404) {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			return wrapErr("delete", bastion.KindServer, err)
		}
		select {
		case <-ctx.Done():
			return &bastion.ProviderError{Op: "delete", Kind: bastion.KindServer, Err: fmt.Errorf("server %s still present: %w", id, ctx.Err())}
		case <-ticker.C:
		}
	}
}

// WaitUntilActive polls the server until it is ACTIVE, fails on ERROR, and
// reports a timeout once timeout elapses.
func (c *Client) WaitUntilActive(ctx context.Context, serverID string, timeout time.Duration) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.timeouts.ProbeInterval)
	defer ticker.Stop()

	var last error
	for {
		s, err := servers.Get(ctx, c.compute, serverID).Extract()
		switch {
		case err != nil && ctx.Err() == nil:
			last = wrapErr("get", bastion.KindServer, err)
			if !bastion.IsRetryable(last) {
				return last
			}
		case err == nil && s.Status == statusActive:
			return nil
		case err == nil && s.Status == statusError:
			msg := "server entered ERROR state"
			if s.Fault.Message != "" {
				msg += ": " + s.Fault.Message
			}
			return &bastion.ProviderError{Op: "wait", Kind: bastion.KindServer, Err: fmt.Errorf("%s", msg)}
		case err == nil:
			last = fmt.Errorf("server status %s", s.Status)
		}

		select {
		case <-ctx.Done():
			return &bastion.ProvisionTimeoutError{Elapsed: time.Since(start), LastErr: last}
		case <-ticker.C:
		}
	}
}

// ServerAddress returns the floating address bound to the server. Neutron
// is asked first because Nova's address cache lags behind new bindings. A
// server without a floating address yet yields a retryable error.
func (c *Client) ServerAddress(ctx context.Context, serverID string) (string, error) {
	addr, err := c.floatingAddress(ctx, serverID)
	if err != nil || addr != "" {
		return addr, err
	}

	s, err := servers.Get(ctx, c.compute, serverID).Extract()
	if err != nil {
		return "", wrapErr("get address of", bastion.KindServer, err)
	}
	if addr := pickAddress(s.Addresses); addr != "" {
		return addr, nil
	}
	if s.AccessIPv4 != "" {
		return s.AccessIPv4, nil
	}
	return "", &bastion.ProviderError{Op: "get address of", Kind: bastion.KindServer, StatusCode: 409, Err: fmt.Errorf("server %s has no floating address yet", serverID)}
}

// pickAddress walks Nova's addresses map ({network: [{addr, version,
// OS-EXT-IPS:type}]}) for a floating address, preferring IPv4. Networks
// are visited in name order. Fixed addresses are never returned: they are
// not reachable from the runner.
func pickAddress(addresses map[string]any) string {
	nets := make([]string, 0, len(addresses))
	for name := range addresses {
		nets = append(nets, name)
	}
	sort.Strings(nets)

	var floating6 string
	for _, name := range nets {
		entries, _ := addresses[name].([]any)
		for _, e := range entries {
			m, _ := e.(map[string]any)
			addr, _ := m["addr"].(string)
			if kind, _ := m["OS-EXT-IPS:type"].(string); addr == "" || kind != "floating" {
				continue
			}
			if !strings.Contains(addr, ":") {
				return addr
			}
			if floating6 == "" {
				floating6 = addr
			}
		}
	}
	return floating6
}
