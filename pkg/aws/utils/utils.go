// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aws/smithy-go"
	"github.com/hibiken/asynq"
)

// notFoundCodes are the error codes of the services in use, which signal that
// a resource does not exist.
var notFoundCodes = []string{
	"NoSuchEntity",
	"NoSuchBucket",
	"NotFound",
	"ResourceNotFoundException",
}

// ErrorCode returns the error code of an AWS API error, or an empty string if
// err is not an API error.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}

// IsNotFound returns true, if err is an AWS API error signalling a missing
// resource.
func IsNotFound(err error) bool {
	code := ErrorCode(err)

	return code != "" && slices.Contains(notFoundCodes, code)
}

// MaybeSkipRetry wraps known AWS errors with [asynq.SkipRetry], so that the
// tasks from which these errors originate from won't be retried.
func MaybeSkipRetry(err error) error {
	// Do not retry tasks where the API call resulted in errors caused by
	// the caller.
	skipRetryCodes := []smithy.ErrorFault{
		smithy.FaultClient,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if slices.Contains(skipRetryCodes, apiErr.ErrorFault()) {
			return fmt.Errorf("%w (%w)", err, asynq.SkipRetry)
		}
	}

	return err
}
