// Package cloud defines the provider-neutral client the bastion lifecycle
// drives.
//
// Every bastion resource kind (security group, keypair, server, floating IP)
// has the same three calls: Find by deterministic name, Create, and an
// idempotent Delete that treats a missing resource as success. Backends live
// in internal/platform; Throttle wraps any backend with client-side rate
// limiting and bounded retry of transient failures.
package cloud
