// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package utils_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
	"github.com/hibiken/asynq"

	"github.com/nops-io/ccost-roles/pkg/aws/utils"
)

func ptr[T any](t T) *T {
	return &t
}

func TestFetchTag(t *testing.T) {
	testCases := []struct {
		desc   string
		tags   []iamtypes.Tag
		key    string
		wanted string
	}{
		{
			desc: "fetch existing tag",
			tags: []iamtypes.Tag{
				{Key: ptr("tag1"), Value: ptr("value1")},
				{Key: ptr("tag2"), Value: ptr("value2")},
			},
			key:    "tag1",
			wanted: "value1",
		},
		{
			desc: "fetch missing tag",
			tags: []iamtypes.Tag{
				{Key: ptr("tag2"), Value: ptr("value2")},
			},
			key:    "tag1",
			wanted: "",
		},
		{
			desc: "handle tags with nil key",
			tags: []iamtypes.Tag{
				{Key: nil, Value: nil},
				{Key: ptr("tag1"), Value: ptr("value1")},
			},
			key:    "tag1",
			wanted: "value1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			output := utils.FetchTag(tc.tags, tc.key)
			if strings.Compare(output, tc.wanted) != 0 {
				t.Fatalf("want %s got %s", tc.wanted, output)
			}
		})
	}
}

func TestTags(t *testing.T) {
	tags := utils.Tags(map[string]string{"b": "2", "a": "1"})
	if len(tags) != 2 || *tags[0].Key != "a" || *tags[1].Key != "b" {
		t.Fatalf("tags are not ordered by key: %v", tags)
	}
	if got := utils.FetchTag(tags, "b"); got != "2" {
		t.Fatalf("want 2, got %s", got)
	}
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		desc         string
		err          error
		wantCode     string
		wantNotFound bool
		wantSkip     bool
	}{
		{
			desc:         "iam no such entity",
			err:          &iamtypes.NoSuchEntityException{Message: ptr("gone")},
			wantCode:     "NoSuchEntity",
			wantNotFound: true,
			wantSkip:     true,
		},
		{
			desc:         "wrapped client fault",
			err:          fmt.Errorf("create role: %w", &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}),
			wantCode:     "AccessDenied",
			wantNotFound: false,
			wantSkip:     true,
		},
		{
			desc:         "server fault",
			err:          &smithy.GenericAPIError{Code: "ServiceFailure", Fault: smithy.FaultServer},
			wantCode:     "ServiceFailure",
			wantNotFound: false,
			wantSkip:     false,
		},
		{
			desc:         "plain error",
			err:          errors.New("connection reset"),
			wantCode:     "",
			wantNotFound: false,
			wantSkip:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := utils.ErrorCode(tc.err); got != tc.wantCode {
				t.Fatalf("want code %q, got %q", tc.wantCode, got)
			}
			if got := utils.IsNotFound(tc.err); got != tc.wantNotFound {
				t.Fatalf("want not found %t, got %t", tc.wantNotFound, got)
			}

			err := utils.MaybeSkipRetry(tc.err)
			if got := errors.Is(err, asynq.SkipRetry); got != tc.wantSkip {
				t.Fatalf("want skip retry %t, got %t", tc.wantSkip, got)
			}
			if !errors.Is(err, tc.err) {
				t.Fatal("original error is not preserved")
			}
		})
	}
}
