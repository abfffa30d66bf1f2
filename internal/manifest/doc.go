// Package manifest loads and validates the action manifest (action.yaml).
//
// The manifest is parsed into typed structs once, at startup, and checked
// before any cloud call: required top-level keys, the inputs the bastion
// workflow depends on, and the repository layout the composite steps
// reference (wrapper scripts and cloud-init fragments).
package manifest
