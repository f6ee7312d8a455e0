// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nops-io/ccost-roles/pkg/core/config"
)

func TestUnmarshal(t *testing.T) {
	data := []byte(`
version: v1alpha1
debug: true
aws:
  region: eu-central-1
  credentials:
    token_retriever: token_file
    token_file:
      path: /var/run/secrets/token
      role_arn: arn:aws:iam::123456789012:role/ccost-reconciler
      duration: 1h
reconciler:
  regions: [us-east-1, eu-west-1]
  account_id: "123456789012"
`)

	conf, err := config.Unmarshal(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if !conf.Debug {
		t.Fatalf("debug not set")
	}

	if conf.AWS.Credentials.TokenFile.Duration != time.Hour {
		t.Fatalf("want duration 1h got %s", conf.AWS.Credentials.TokenFile.Duration)
	}

	// Defaults are retained for unset values
	if conf.Reconciler.Concurrency != 4 {
		t.Fatalf("want default concurrency 4 got %d", conf.Reconciler.Concurrency)
	}

	if !conf.Reconciler.CheckBucket {
		t.Fatalf("want default check_bucket true")
	}

	if err := conf.Validate("eu-central-1"); err != nil {
		t.Fatalf("unexpected validation error: %s", err)
	}
}

func TestReconcilerToggles(t *testing.T) {
	testCases := []struct {
		desc     string
		data     string
		wantTags bool
		wantHold bool
	}{
		{
			desc:     "defaults",
			data:     "version: v1alpha1\n",
			wantTags: true,
			wantHold: false,
		},
		{
			desc:     "overrides",
			data:     "version: v1alpha1\nreconciler:\n  tag_roles: false\n  hold_unavailable_regions: true\n",
			wantTags: false,
			wantHold: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			conf, err := config.Unmarshal([]byte(tc.data))
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if conf.Reconciler.TagRoles != tc.wantTags {
				t.Fatalf("want tag_roles %t, got %t", tc.wantTags, conf.Reconciler.TagRoles)
			}
			if conf.Reconciler.HoldUnavailableRegions != tc.wantHold {
				t.Fatalf("want hold_unavailable_regions %t, got %t", tc.wantHold, conf.Reconciler.HoldUnavailableRegions)
			}
		})
	}
}

func TestUnmarshalVersion(t *testing.T) {
	testCases := []struct {
		desc    string
		data    string
		wantErr error
	}{
		{
			desc:    "missing version",
			data:    "debug: true\n",
			wantErr: config.ErrNoConfigVersion,
		},
		{
			desc:    "unsupported version",
			data:    "version: v2\n",
			wantErr: config.ErrUnsupportedVersion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := config.Unmarshal([]byte(tc.data))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	conf, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if conf.Version != config.ConfigFormatVersion {
		t.Fatalf("default config has version %q", conf.Version)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: v1alpha1\nreconciler:\n  dry_run: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	conf, err = config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !conf.Reconciler.DryRun {
		t.Fatalf("dry_run not loaded from file")
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestScanRegions(t *testing.T) {
	testCases := []struct {
		desc    string
		regions []string
		home    string
		wanted  []string
	}{
		{
			desc:    "falls back to home region",
			regions: nil,
			home:    "us-east-1",
			wanted:  []string{"us-east-1"},
		},
		{
			desc:    "configured regions win",
			regions: []string{"eu-west-1", "us-west-2"},
			home:    "us-east-1",
			wanted:  []string{"eu-west-1", "us-west-2"},
		},
		{
			desc:    "duplicates and blanks are dropped",
			regions: []string{"eu-west-1", " eu-west-1", "", "us-west-2,eu-west-1"},
			home:    "us-east-1",
			wanted:  []string{"eu-west-1", "us-west-2"},
		},
		{
			desc:    "nothing configured",
			regions: nil,
			home:    "",
			wanted:  []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			conf := config.Default()
			conf.Reconciler.Regions = tc.regions
			got := conf.ScanRegions(tc.home)
			if !slices.Equal(got, tc.wanted) {
				t.Fatalf("want %v got %v", tc.wanted, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc    string
		mutate  func(c *config.Config)
		home    string
		wantErr error
	}{
		{
			desc:    "no regions at all",
			mutate:  func(*config.Config) {},
			home:    "",
			wantErr: config.ErrNoRegions,
		},
		{
			desc:    "zero concurrency",
			mutate:  func(c *config.Config) { c.Reconciler.Concurrency = 0 },
			home:    "us-east-1",
			wantErr: config.ErrInvalidConcurrency,
		},
		{
			desc:    "unknown token retriever",
			mutate:  func(c *config.Config) { c.AWS.Credentials.TokenRetriever = "kube_sa_token" },
			home:    "us-east-1",
			wantErr: config.ErrUnknownTokenRetriever,
		},
		{
			desc:    "token file without role",
			mutate:  func(c *config.Config) { c.AWS.Credentials.TokenRetriever = config.TokenFileRetriever },
			home:    "us-east-1",
			wantErr: config.ErrNoTokenFile,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			conf := config.Default()
			tc.mutate(conf)
			if err := conf.Validate(tc.home); !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseRegions(t *testing.T) {
	got := config.ParseRegions("us-east-1, eu-west-1,,us-east-1")
	want := []string{"us-east-1", "eu-west-1"}
	if !slices.Equal(got, want) {
		t.Fatalf("want %v got %v", want, got)
	}
}
