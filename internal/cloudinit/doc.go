// Package cloudinit renders the #cloud-config user-data of a bastion.
//
// Rendering is pure: the same Config always yields the same document.
// Site-specific additions come from fragment files (see LoadFragments),
// merged in lexical file order.
package cloudinit
