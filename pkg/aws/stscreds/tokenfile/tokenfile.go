// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0
//
// Package tokenfile implements utilities for retrieving identity tokens from a
// given path, such as the projected service account token of a Kubernetes pod
// or the token file of an EKS Pod Identity.
//
// The token retriever is meant to be plugged-in to an AWS Web Identity
// Credentials Provider, so that short-lived JWT tokens can be exchanged for
// temporary security credentials when accessing AWS resources.

package tokenfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
)

const (
	// TokenRetrieverName specifies the name of the Token Retriever.
	TokenRetrieverName = "token_file"
)

// ErrNoTokenPath is an error, which is returned, when the [TokenRetriever] is
// configured without a path to the token file.
var ErrNoTokenPath = errors.New("no token path specified")

// ErrEmptyToken is an error, which is returned when the token file is empty.
var ErrEmptyToken = errors.New("empty identity token")

// TokenRetriever retrieves an identity token from a given path. The file is
// read on every call, since the token is rotated in place.
//
// TokenRetriever implements the [stscreds.IdentityTokenRetriever] interface.
type TokenRetriever struct {
	// path specifies the path to the identity token file.
	path string
}

var _ stscreds.IdentityTokenRetriever = &TokenRetriever{}

// GetIdentityToken implements the [stscreds.IdentityTokenRetriever] interface.
func (t *TokenRetriever) GetIdentityToken() ([]byte, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, err
	}

	token := bytes.TrimSpace(data)
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyToken, t.path)
	}

	return token, nil
}

// Path returns the path of the token file.
func (t *TokenRetriever) Path() string {
	return t.path
}

// Option is a function which configures a [TokenRetriever] instance.
type Option func(*TokenRetriever)

// NewTokenRetriever creates a new [TokenRetriever] and configures it using the
// provided options.
func NewTokenRetriever(opts ...Option) (*TokenRetriever, error) {
	tokenRetriever := &TokenRetriever{}
	for _, opt := range opts {
		opt(tokenRetriever)
	}

	if tokenRetriever.path == "" {
		return nil, ErrNoTokenPath
	}

	return tokenRetriever, nil
}

// WithPath returns an [Option], which configures the [TokenRetriever] to use
// the given filepath to read the contents of the identity token.
func WithPath(path string) Option {
	opt := func(t *TokenRetriever) {
		t.path = path
	}

	return opt
}
