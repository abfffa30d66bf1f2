package provisioning

import "fmt"

// ProvisionError reports a failed provisioning run together with the
// outcome of the automatic teardown that followed it.
type ProvisionError struct {
	Err error
	// Teardown is nil when every created resource was released.
	Teardown error
}

func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("provisioning failed: %v", e.Err)
	if e.Teardown != nil {
		msg += fmt.Sprintf("; automatic teardown incomplete: %v", e.Teardown)
	}
	return msg
}

func (e *ProvisionError) Unwrap() []error {
	if e.Teardown == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Teardown}
}
