// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package tokenfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewTokenRetriever(t *testing.T) {
	if _, err := NewTokenRetriever(); !errors.Is(err, ErrNoTokenPath) {
		t.Fatalf("want ErrNoTokenPath, got %v", err)
	}
}

func TestGetIdentityToken(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		desc    string
		content string
		want    string
		wantErr error
	}{
		{desc: "token", content: "header.payload.signature", want: "header.payload.signature"},
		{desc: "trailing newline", content: "header.payload.signature\n", want: "header.payload.signature"},
		{desc: "empty file", content: "\n", wantErr: ErrEmptyToken},
	}

	for i, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			path := filepath.Join(dir, "token"+string(rune('a'+i)))
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}

			r, err := NewTokenRetriever(WithPath(path))
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if r.Path() != path {
				t.Fatalf("want path %s, got %s", path, r.Path())
			}

			got, err := r.GetIdentityToken()
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if string(got) != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestGetIdentityTokenMissingFile(t *testing.T) {
	r, err := NewTokenRetriever(WithPath(filepath.Join(t.TempDir(), "missing")))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := r.GetIdentityToken(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want os.ErrNotExist, got %v", err)
	}
}
