// Package config turns action inputs, environment variables and an optional
// YAML spec file into the validated [bastion.Spec] and run [Settings] of a
// single invocation, and exposes env-tunable [Timeouts].
//
// GitHub Actions passes input "foo_bar" as the environment variable
// INPUT_FOO_BAR. Each input falls back to the conventional OpenStack OS_*
// variable where one exists, so the binary also works from a sourced
// openrc file.
package config
