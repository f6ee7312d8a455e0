// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package version provides the build version of the reconciler.
package version

// Version is the version of the binary, set at build time via
//
//	-ldflags "-X github.com/nops-io/ccost-roles/pkg/version.Version=..."
var Version = "v0.0.0-dev"
