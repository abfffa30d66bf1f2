package openstack

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"

	"github.com/imamik/osbastion/internal/bastion"
)

// isID reports whether ref already is an OpenStack UUID.
func isID(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

func (c *Client) resolveNetwork(ctx context.Context, ref string) (string, error) {
	if isID(ref) {
		return ref, nil
	}
	pages, err := networks.List(c.network, networks.ListOpts{Name: ref}).AllPages(ctx)
	if err != nil {
		return "", wrapErr("resolve network", "", err)
	}
	found, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", wrapErr("resolve network", "", err)
	}
	return pickOne("network", ref, len(found), func(i int) string { return found[i].ID })
}

func (c *Client) resolveImage(ctx context.Context, ref string) (string, error) {
	if isID(ref) {
		return ref, nil
	}
	pages, err := images.List(c.image, images.ListOpts{Name: ref}).AllPages(ctx)
	if err != nil {
		return "", wrapErr("resolve image", "", err)
	}
	found, err := images.ExtractImages(pages)
	if err != nil {
		return "", wrapErr("resolve image", "", err)
	}
	return pickOne("image", ref, len(found), func(i int) string { return found[i].ID })
}

// resolveFlavor matches by ID first, then by name. Flavor IDs are not
// always UUIDs, so both are checked against the listing.
func (c *Client) resolveFlavor(ctx context.Context, ref string) (string, error) {
	pages, err := flavors.ListDetail(c.compute, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return "", wrapErr("resolve flavor", "", err)
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", wrapErr("resolve flavor", "", err)
	}
	var byName []string
	for _, f := range all {
		if f.ID == ref {
			return f.ID, nil
		}
		if f.Name == ref {
			byName = append(byName, f.ID)
		}
	}
	return pickOne("flavor", ref, len(byName), func(i int) string { return byName[i] })
}

func pickOne(what, ref string, n int, id func(int) string) (string, error) {
	switch n {
	case 0:
		return "", fmt.Errorf("%w: %s %q not found", bastion.ErrInvalidConfig, what, ref)
	case 1:
		return id(0), nil
	default:
		return "", fmt.Errorf("%w: %s name %q is ambiguous (%d matches)", bastion.ErrInvalidConfig, what, ref, n)
	}
}
