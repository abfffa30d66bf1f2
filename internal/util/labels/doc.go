// Package labels provides consistent tagging for bastion resources.
//
// All tags use the osbastion.io prefix and follow a builder pattern for
// constructing tag sets with the bastion name, run ID and manager
// identification. Providers map them onto server metadata, resource
// descriptions or labels.
package labels
