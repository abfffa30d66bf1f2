// Package handlers implements the business logic of the osbastion CLI.
//
// Each exported function backs one command. Handlers resolve configuration
// from action inputs and flags, build the cloud client and ledger for the
// run, drive the lifecycle controller, and report results as step outputs
// and exit codes. Collaborators are created through package-level factory
// variables so tests can replace them.
package handlers
