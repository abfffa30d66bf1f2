package labels

// Standard tag keys for bastion resources.
const (
	// KeyBastion identifies which bastion a resource belongs to
	KeyBastion = "osbastion.io/bastion"

	// KeyRunID identifies the setup invocation that created a resource
	KeyRunID = "osbastion.io/run-id"

	// KeyKind identifies the resource kind
	KeyKind = "osbastion.io/kind"

	// KeyManagedBy identifies the management system
	KeyManagedBy = "osbastion.io/managed-by"
)

// ManagedByOSBastion is the KeyManagedBy value of every resource.
const ManagedByOSBastion = "osbastion"

// LabelBuilder provides a fluent interface for building resource tags.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a new label builder with the bastion name pre-set.
func NewLabelBuilder(bastionName string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyBastion:   bastionName,
			KeyManagedBy: ManagedByOSBastion,
		},
	}
}

// WithRunID adds the run ID tag if runID is non-empty.
func (lb *LabelBuilder) WithRunID(runID string) *LabelBuilder {
	if runID != "" {
		lb.labels[KeyRunID] = runID
	}
	return lb
}

// WithKind adds the resource kind tag.
func (lb *LabelBuilder) WithKind(kind string) *LabelBuilder {
	lb.labels[KeyKind] = kind
	return lb
}

// Merge adds all labels from the provided map. Reserved keys are not overridden.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		switch k {
		case KeyBastion, KeyManagedBy, KeyRunID, KeyKind:
			continue
		}
		lb.labels[k] = v
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}
