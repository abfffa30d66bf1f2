package hcloud

import (
	"errors"
	"net/http"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/osbastion/internal/bastion"
)

// isResourceLocked checks if an error indicates a resource is locked.
// Locked resources typically occur while an action is still running on
// them. These errors are retryable.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// statusCode derives the HTTP status of a failed call. Lock errors are
// reported as 409 whatever the response said, so they are retried.
func statusCode(resp *hcloud.Response, err error) int {
	switch {
	case isResourceLocked(err):
		return http.StatusConflict
	case isHCloudErrorCode(err, hcloud.ErrorCodeNotFound):
		return http.StatusNotFound
	case isHCloudErrorCode(err, hcloud.ErrorCodeRateLimitExceeded):
		return http.StatusTooManyRequests
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return resp.StatusCode
	}
	if isHCloudErrorCode(err, hcloud.ErrorCodeInvalidInput, hcloud.ErrorCodeUniquenessError) {
		return http.StatusUnprocessableEntity
	}
	return 0
}

// wrapErr converts an hcloud error into a *bastion.ProviderError.
func wrapErr(op string, kind bastion.Kind, resp *hcloud.Response, err error) error {
	if err == nil {
		return nil
	}
	var pe *bastion.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &bastion.ProviderError{Op: op, Kind: kind, StatusCode: statusCode(resp, err), Err: err}
}
