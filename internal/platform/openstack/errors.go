package openstack

import (
	"errors"

	"github.com/gophercloud/gophercloud/v2"

	"github.com/imamik/osbastion/internal/bastion"
)

// statusCode extracts the HTTP status of a failed gophercloud call, or 0.
func statusCode(err error) int {
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		return unexpected.Actual
	}
	return 0
}

// wrapErr converts a gophercloud error into a *bastion.ProviderError.
func wrapErr(op string, kind bastion.Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *bastion.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &bastion.ProviderError{Op: op, Kind: kind, StatusCode: statusCode(err), Err: err}
}

// ignoreNotFound makes a delete of an absent resource succeed.
func ignoreNotFound(op string, kind bastion.Kind, err error) error {
	if err == nil || gophercloud.ResponseCodeIs(err, 404) {
		return nil
	}
	return wrapErr(op, kind, err)
}
