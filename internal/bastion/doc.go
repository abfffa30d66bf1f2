// Package bastion defines the domain types shared by every part of the
// bastion lifecycle: the immutable Spec a run is driven by, the Record
// describing a cloud resource created by a run, the lifecycle State, and
// the error taxonomy used to classify failures across providers.
package bastion
