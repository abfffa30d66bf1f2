// Package provisioning drives the lifecycle of a single bastion.
//
// The Controller is a sequential state machine:
//
//	Provisioning -> Ready -> TearingDown -> Destroyed
//	Provisioning -> Failed -> TearingDown (automatic)
//
// Every resource is appended to the ledger before the next creation step,
// so teardown (possibly in a later process) can release exactly what was
// created, in reverse order.
//
// # Phases
//
//   - resources: security group, keypair, server, floating IP
//   - activation: wait for the server to become active and resolve its address
//   - readiness: poll the probes until one full round succeeds
//   - teardown: delete ledger entries LIFO, then optionally sweep by name
package provisioning
