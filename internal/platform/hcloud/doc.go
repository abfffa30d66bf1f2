// Package hcloud implements cloud.Client on the Hetzner Cloud API.
//
// Bastion kinds map onto Hetzner resources as follows: a security group is
// a firewall applied to the server at creation, a keypair is an SSH key, and
// the floating IP is assigned to the server directly. Resource IDs are the
// decimal Hetzner IDs.
package hcloud
