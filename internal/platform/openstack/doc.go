// Package openstack implements cloud.Client on top of gophercloud.
//
// Security groups and floating IPs live in Neutron, keypairs and servers in
// Nova. Floating IPs carry their deterministic name in the description field
// since Neutron gives them no name of their own. Keypair IDs are their names.
package openstack
