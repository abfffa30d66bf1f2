package provisioning

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/osbastion/internal/bastion"
)

// Observer defines the interface for structured observability during a
// bastion lifecycle.
type Observer interface {
	// Printf logs a free-form message.
	Printf(format string, v ...any)

	// Event emits a structured event
	Event(event Event)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured lifecycle event.
type Event struct {
	Type      EventType         // Type of event
	Phase     string            // Phase name (e.g., "resources", "readiness")
	Message   string            // Human-readable message
	Resource  string            // Resource name if applicable
	Err       error             // Cause of failure events
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
}

// EventType represents the type of lifecycle event.
type EventType string

const (
	// EventPhaseStarted indicates a phase has started.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted indicates a phase completed successfully.
	EventPhaseCompleted EventType = "phase.completed"
	// EventPhaseFailed indicates a phase failed.
	EventPhaseFailed EventType = "phase.failed"

	// EventResourceCreating indicates a resource is being created.
	EventResourceCreating EventType = "resource.creating"
	// EventResourceCreated indicates a resource was created successfully.
	EventResourceCreated EventType = "resource.created"
	// EventResourceExists indicates a resource already exists and was adopted.
	EventResourceExists EventType = "resource.exists"
	// EventResourceFailed indicates a resource operation failed.
	EventResourceFailed EventType = "resource.failed"
	// EventResourceDeleting indicates a resource is being deleted.
	EventResourceDeleting EventType = "resource.deleting"
	// EventResourceDeleted indicates a resource was deleted or already absent.
	EventResourceDeleted EventType = "resource.deleted"
	// EventResourceLeaked indicates teardown gave up on a resource.
	EventResourceLeaked EventType = "resource.leaked"

	// EventStateChanged indicates a lifecycle state transition.
	EventStateChanged EventType = "state.changed"

	// EventProbeFailed indicates a readiness probe attempt failed.
	EventProbeFailed EventType = "probe.failed"
)

// LogrObserver implements Observer on top of a logr.Logger.
// Failure events are logged as errors, chatty events at V(1).
type LogrObserver struct {
	log           logr.Logger
	contextFields map[string]string
}

// NewObserver creates an observer writing to log.
func NewObserver(log logr.Logger) *LogrObserver {
	return &LogrObserver{
		log:           log,
		contextFields: make(map[string]string),
	}
}

// DiscardObserver returns an observer that drops everything.
func DiscardObserver() *LogrObserver {
	return NewObserver(logr.Discard())
}

// Printf implements Observer.
func (o *LogrObserver) Printf(format string, v ...any) {
	o.log.Info(fmt.Sprintf(format, v...))
}

// Event implements Observer.
func (o *LogrObserver) Event(event Event) {
	kv := []any{"event", string(event.Type)}
	if event.Phase != "" {
		kv = append(kv, "phase", event.Phase)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}

	fields := make(map[string]string, len(o.contextFields)+len(event.Fields))
	for k, v := range o.contextFields {
		fields[k] = v
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}

	switch event.Type {
	case EventPhaseFailed, EventResourceFailed, EventResourceLeaked:
		o.log.Error(event.Err, event.Message, kv...)
	case EventResourceCreating, EventResourceDeleting, EventProbeFailed:
		if event.Err != nil {
			kv = append(kv, "error", event.Err.Error())
		}
		o.log.V(1).Info(event.Message, kv...)
	default:
		o.log.Info(event.Message, kv...)
	}
}

// WithFields implements Observer.
func (o *LogrObserver) WithFields(fields map[string]string) Observer {
	newFields := make(map[string]string, len(o.contextFields)+len(fields))
	for k, v := range o.contextFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &LogrObserver{
		log:           o.log,
		contextFields: newFields,
	}
}

// Helper functions for common events

// LogPhaseStart logs a phase start event.
func LogPhaseStart(observer Observer, phase string) {
	observer.Event(Event{
		Type:    EventPhaseStarted,
		Phase:   phase,
		Message: "starting",
	})
}

// LogPhaseComplete logs a phase completion event.
func LogPhaseComplete(observer Observer, phase string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventPhaseCompleted,
		Phase:   phase,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogPhaseFailed logs a phase failure event.
func LogPhaseFailed(observer Observer, phase string, err error) {
	observer.Event(Event{
		Type:    EventPhaseFailed,
		Phase:   phase,
		Message: "failed",
		Err:     err,
	})
}

// LogResourceCreating logs a resource creation start event.
func LogResourceCreating(observer Observer, phase string, kind bastion.Kind, name string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Phase:    phase,
		Resource: name,
		Message:  fmt.Sprintf("creating %s", kind),
		Fields:   map[string]string{"kind": string(kind)},
	})
}

// LogResourceCreated logs a successful resource creation event.
func LogResourceCreated(observer Observer, phase string, rec bastion.Record) {
	observer.Event(Event{
		Type:     EventResourceCreated,
		Phase:    phase,
		Resource: rec.Name,
		Message:  fmt.Sprintf("%s created", rec.Kind),
		Fields:   map[string]string{"kind": string(rec.Kind), "id": rec.ProviderID},
	})
}

// LogResourceExists logs when a resource already exists.
func LogResourceExists(observer Observer, phase string, rec bastion.Record) {
	observer.Event(Event{
		Type:     EventResourceExists,
		Phase:    phase,
		Resource: rec.Name,
		Message:  fmt.Sprintf("%s already exists", rec.Kind),
		Fields:   map[string]string{"kind": string(rec.Kind), "id": rec.ProviderID},
	})
}

// LogResourceFailed logs a failed resource operation.
func LogResourceFailed(observer Observer, phase string, kind bastion.Kind, name string, err error) {
	observer.Event(Event{
		Type:     EventResourceFailed,
		Phase:    phase,
		Resource: name,
		Message:  fmt.Sprintf("%s failed", kind),
		Err:      err,
		Fields:   map[string]string{"kind": string(kind)},
	})
}

// LogResourceDeleting logs a resource deletion start event.
func LogResourceDeleting(observer Observer, phase string, rec bastion.Record) {
	observer.Event(Event{
		Type:     EventResourceDeleting,
		Phase:    phase,
		Resource: rec.Name,
		Message:  fmt.Sprintf("deleting %s", rec.Kind),
		Fields:   map[string]string{"kind": string(rec.Kind), "id": rec.ProviderID},
	})
}

// LogResourceDeleted logs a successful resource deletion event.
func LogResourceDeleted(observer Observer, phase string, rec bastion.Record) {
	observer.Event(Event{
		Type:     EventResourceDeleted,
		Phase:    phase,
		Resource: rec.Name,
		Message:  fmt.Sprintf("%s deleted", rec.Kind),
		Fields:   map[string]string{"kind": string(rec.Kind), "id": rec.ProviderID},
	})
}

// LogResourceLeaked logs a resource teardown gave up on.
func LogResourceLeaked(observer Observer, phase string, leak bastion.Leak) {
	observer.Event(Event{
		Type:     EventResourceLeaked,
		Phase:    phase,
		Resource: leak.Record.Name,
		Message:  fmt.Sprintf("%s leaked, manual cleanup required", leak.Record.Kind),
		Err:      leak.Err,
		Fields: map[string]string{
			"kind":     string(leak.Record.Kind),
			"id":       leak.Record.ProviderID,
			"attempts": fmt.Sprint(leak.Attempts),
		},
	})
}

// LogStateChanged logs a lifecycle transition.
func LogStateChanged(observer Observer, from, to bastion.State) {
	if from == bastion.StateNone {
		from = "<none>"
	}
	observer.Event(Event{
		Type:    EventStateChanged,
		Message: fmt.Sprintf("%s -> %s", from, to),
		Fields:  map[string]string{"from": string(from), "to": string(to)},
	})
}
