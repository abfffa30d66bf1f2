package config

// Common values used throughout the application.
const (
	// SSHPort is the port the readiness probe dials.
	SSHPort = 22

	// DefaultCloudInitDir is where cloud-init fragments are read from.
	DefaultCloudInitDir = "cloud-init"

	// DefaultUserDomain is the Keystone domain used for password auth.
	DefaultUserDomain = "Default"

	// Operations accepted by the "operation" input.
	OperationCreate  = "create"
	OperationDestroy = "destroy"
)
