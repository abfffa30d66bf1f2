package hcloud

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
)

// CreateResult wraps the result of a resource creation operation.
// It handles both single and multiple actions that may need to be awaited.
type CreateResult[T any] struct {
	Resource T
	Action   *hcloud.Action
	Actions  []*hcloud.Action
}

// FindOperation looks a resource up by its deterministic name.
//
//	func (c *Client) FindKeypair(ctx context.Context, name string) (*bastion.Record, error) {
//	    return (&FindOperation[*hcloud.SSHKey]{
//	        Name: name,
//	        Kind: bastion.KindKeypair,
//	        Get:  c.client.SSHKey.GetByName,
//	        Record: func(k *hcloud.SSHKey) bastion.Record { ... },
//	    }).Execute(ctx)
//	}
type FindOperation[T any] struct {
	Name string
	Kind bastion.Kind

	// Get retrieves the resource by name
	Get func(ctx context.Context, name string) (T, *hcloud.Response, error)

	// Record converts the resource into a ledger record
	Record func(T) bastion.Record
}

// Execute returns nil when no resource has the name.
func (op *FindOperation[T]) Execute(ctx context.Context) (*bastion.Record, error) {
	resource, resp, err := op.Get(ctx, op.Name)
	if err != nil {
		return nil, wrapErr("find", op.Kind, resp, err)
	}
	if reflect.ValueOf(resource).IsNil() {
		return nil, nil
	}
	rec := op.Record(resource)
	return &rec, nil
}

// CreateOperation creates a resource and waits for its actions.
type CreateOperation[T any, CreateOpts any] struct {
	Name string
	Kind bastion.Kind

	// Create creates the resource with the given options
	Create func(ctx context.Context, opts CreateOpts) (*CreateResult[T], *hcloud.Response, error)

	// CreateOptsMapper builds the create options, resolving dependencies
	CreateOptsMapper func(ctx context.Context) (CreateOpts, error)

	// ID extracts the Hetzner ID of the created resource
	ID func(T) int64
}

// Execute performs the create and returns the record for the new resource.
func (op *CreateOperation[T, CreateOpts]) Execute(ctx context.Context, client *Client) (bastion.Record, error) {
	opts, err := op.CreateOptsMapper(ctx)
	if err != nil {
		return bastion.Record{}, err
	}

	result, resp, err := op.Create(ctx, opts)
	if err != nil {
		return bastion.Record{}, wrapErr("create", op.Kind, resp, err)
	}

	if err := waitForActionResult(ctx, client.client, result); err != nil {
		return bastion.Record{}, wrapErr("wait for create of", op.Kind, nil, err)
	}

	return bastion.Record{
		Kind:       op.Kind,
		ProviderID: formatID(op.ID(result.Resource)),
		Name:       op.Name,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}, nil
}

// DeleteOperation encapsulates deletion logic for any hcloud resource.
// The operation is idempotent: it succeeds if the resource doesn't exist.
// Retries are left to the caller's throttle; locked resources surface as
// retryable 409 errors.
type DeleteOperation[T any] struct {
	ID   string
	Kind bastion.Kind

	// Get retrieves the resource by ID
	Get func(ctx context.Context, idOrName string) (T, *hcloud.Response, error)

	// Delete removes the resource
	Delete func(ctx context.Context, resource T) (*hcloud.Response, error)
}

// Execute performs the delete operation with the client's delete timeout.
func (op *DeleteOperation[T]) Execute(ctx context.Context, client *Client) error {
	if _, err := parseID(op.ID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, client.timeouts.Delete)
	defer cancel()

	resource, resp, err := op.Get(ctx, op.ID)
	if err != nil {
		if isHCloudErrorCode(err, hcloud.ErrorCodeNotFound) {
			return nil
		}
		return wrapErr("get", op.Kind, resp, err)
	}

	if reflect.ValueOf(resource).IsNil() {
		return nil
	}

	resp, err = op.Delete(ctx, resource)
	if err != nil {
		if isHCloudErrorCode(err, hcloud.ErrorCodeNotFound) {
			return nil
		}
		return wrapErr("delete", op.Kind, resp, err)
	}
	return nil
}

// waitForActionResult waits for actions from a CreateResult.
// Handles both singular Action and plural Actions fields.
func waitForActionResult[T any](ctx context.Context, client *hcloud.Client, result *CreateResult[T]) error {
	if result.Action != nil {
		return client.Action.WaitFor(ctx, result.Action)
	}
	if len(result.Actions) > 0 {
		return client.Action.WaitFor(ctx, result.Actions...)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid hetzner id %q", bastion.ErrInvalidConfig, id)
	}
	return n, nil
}
