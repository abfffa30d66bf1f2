// Package keygen generates ephemeral SSH key pairs.
//
// When a run is not given a public key, a fresh pair is generated: the
// public half is registered as the bastion keypair and the private half is
// written next to the ledger with 0600 permissions so later steps (and the
// cloud-init readiness probe) can log in.
package keygen
