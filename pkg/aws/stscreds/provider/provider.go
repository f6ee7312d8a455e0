// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0
//
// Package provider implements utilities for creating Web Identity based
// implementations of [aws.CredentialsProvider].
//
// Please refer to the following documentation for more details.
//
// https://docs.aws.amazon.com/IAM/latest/UserGuide/id_credentials_temp.html
// https://docs.aws.amazon.com/IAM/latest/UserGuide/id_roles_create_for-idp_oidc.html

package provider

import (
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
)

// DefaultRoleSessionName is the session name used when none is configured.
const DefaultRoleSessionName = "ccost-roles"

// ErrNoSTSClient is an error, which is returned when creating a new credentials
// provider without the required AWS STS client.
var ErrNoSTSClient = errors.New("no STS client specified")

// ErrNoRoleARN is an error, which is returned when creating a new credentials
// provider without specifying a IAM Role ARN to be assumed.
var ErrNoRoleARN = errors.New("no IAM Role ARN specified")

// ErrNoTokenRetriever is an error, which is returned when creating a new web
// identity credentials provider, without specifying a
// [stscreds.IdentityTokenRetriever] implementation.
var ErrNoTokenRetriever = errors.New("no token retriever specified")

// Spec provides the configuration settings for the Web Identity Credentials
// Provider.
type Spec struct {
	// Client is the API client used to exchange the identity token.
	Client stscreds.AssumeRoleWithWebIdentityAPIClient

	// RoleARN is the IAM Role ARN to assume.
	RoleARN string

	// RoleSessionName is the name of the session. Defaults to
	// [DefaultRoleSessionName].
	RoleSessionName string

	// Duration specifies the expiry duration of the STS credentials. Zero
	// leaves the STS default in place.
	Duration time.Duration

	// TokenRetriever is the identity token retriever implementation to use.
	TokenRetriever stscreds.IdentityTokenRetriever
}

// New creates a new Web Identity implementation of [aws.CredentialsProvider]
// based on the provided spec. The returned provider caches the credentials
// until shortly before they expire.
func New(spec *Spec) (aws.CredentialsProvider, error) {
	if spec.Client == nil {
		return nil, ErrNoSTSClient
	}

	if spec.RoleARN == "" {
		return nil, ErrNoRoleARN
	}

	if spec.TokenRetriever == nil {
		return nil, ErrNoTokenRetriever
	}

	sessionName := spec.RoleSessionName
	if sessionName == "" {
		sessionName = DefaultRoleSessionName
	}

	provider := stscreds.NewWebIdentityRoleProvider(
		spec.Client,
		spec.RoleARN,
		spec.TokenRetriever,
		func(o *stscreds.WebIdentityRoleOptions) {
			o.Duration = spec.Duration
			o.RoleSessionName = sessionName
		},
	)

	return aws.NewCredentialsCache(provider), nil
}
