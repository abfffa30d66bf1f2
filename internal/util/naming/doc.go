// Package naming provides the deterministic names of bastion resources.
//
// Every resource a bastion owns is named {bastion}-{suffix}. The names are
// stable across invocations so that an ambiguous create can be resolved by
// looking the resource up by name before trying again, and so that a
// teardown sweep can find resources a crashed run never recorded.
package naming
