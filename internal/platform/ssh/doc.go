// Package ssh runs single commands on a bastion over SSH.
//
// The readiness probe uses it to check for the cloud-init completion
// marker. Each call dials once; polling and retry belong to the caller.
package ssh
