// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package ptr_test

import (
	"testing"

	"github.com/nops-io/ccost-roles/pkg/utils/ptr"
)

func TestValue(t *testing.T) {
	region := "eu-west-1"

	testCases := []struct {
		desc   string
		input  *string
		def    string
		wanted string
	}{
		{
			desc:   "nil input with empty default",
			input:  nil,
			def:    "",
			wanted: "",
		},
		{
			desc:   "nil input with default",
			input:  nil,
			def:    "us-east-1",
			wanted: "us-east-1",
		},
		{
			desc:   "value wins over default",
			input:  &region,
			def:    "us-east-1",
			wanted: region,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			output := ptr.Value(tc.input, tc.def)
			if output != tc.wanted {
				t.Fatalf("want %s got %s", tc.wanted, output)
			}
		})
	}
}

func TestTo(t *testing.T) {
	p := ptr.To(int32(42))
	if p == nil || *p != 42 {
		t.Fatalf("To did not return a pointer to the given value")
	}
}

func TestStringFromPointer(t *testing.T) {
	emptyString := ""
	nonEmptyString := "abc"
	testCases := []struct {
		in  *string
		out string
	}{
		{nil, ""},
		{&emptyString, ""},
		{&nonEmptyString, nonEmptyString},
	}

	for _, tt := range testCases {
		out := ptr.StringFromPointer(tt.in)

		if tt.out != out {
			t.Fatalf(`StringFromPointer(%v) == %q, expected %q.`, tt.in, out, tt.out)
		}
	}
}
