// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package policy builds the federated trust document and the inline
// storage-access policy of a managed role.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// Version is the IAM policy language version.
	Version = "2012-10-17"

	// EffectAllow is the effect of every statement built by this package.
	EffectAllow = "Allow"

	// ActionAssumeRoleWithWebIdentity is the action granted by the trust
	// document.
	ActionAssumeRoleWithWebIdentity = "sts:AssumeRoleWithWebIdentity"

	// ServiceAccountSubject is the service account, which is allowed to
	// assume a managed role.
	ServiceAccountSubject = "system:serviceaccount:nops:nops-container-insights"

	// InlinePolicyName is the name under which the inline policy is put
	// on a managed role.
	InlinePolicyName = "S3Policy"

	// BucketPrefix is the prefix of the per-account bucket name.
	BucketPrefix = "nops-container-cost-"
)

// ErrMissingIdentityProvider is an error, which is returned when a cluster
// does not have an OIDC identity provider associated with it.
var ErrMissingIdentityProvider = errors.New("no OIDC identity provider associated with cluster")

// Values is a list of policy values, which is encoded as a single string when
// it has exactly one element.
type Values []string

// MarshalJSON implements the [json.Marshaler] interface.
func (v Values) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}

	return json.Marshal([]string(v))
}

// Principal is the principal of a policy statement.
type Principal struct {
	Federated string `json:"Federated,omitempty"`
}

// Condition maps condition operators to their key/value pairs.
type Condition map[string]map[string]string

// Statement is a single statement of a policy document.
type Statement struct {
	Effect    string     `json:"Effect"`
	Principal *Principal `json:"Principal,omitempty"`
	Action    Values     `json:"Action"`
	Resource  Values     `json:"Resource,omitempty"`
	Condition Condition  `json:"Condition,omitempty"`
}

// Document is an IAM policy document.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Marshal returns the JSON encoding of the document.
func (d Document) Marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// OIDCProviderID returns the identifier of the OIDC provider, which is the
// last path segment of the issuer URL.
func OIDCProviderID(issuerURL string) (string, error) {
	issuerURL = strings.TrimSpace(issuerURL)
	if issuerURL == "" {
		return "", ErrMissingIdentityProvider
	}

	path := issuerURL
	if u, err := url.Parse(issuerURL); err == nil && u.Host != "" {
		path = u.Path
	}

	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	id := path[idx+1:]
	if id == "" {
		return "", fmt.Errorf("%w: no provider id in issuer %s", ErrMissingIdentityProvider, issuerURL)
	}

	return id, nil
}

// ProviderHost returns the host and path of the EKS OIDC provider with the
// given id in the given region.
func ProviderHost(region, id string) string {
	return fmt.Sprintf("oidc.eks.%s.amazonaws.com/id/%s", region, id)
}

// ProviderARN returns the ARN of the IAM OIDC provider with the given id.
func ProviderARN(accountID, region, id string) string {
	return fmt.Sprintf("arn:aws:iam::%s:oidc-provider/%s", accountID, ProviderHost(region, id))
}

// BucketName returns the name of the per-account bucket.
func BucketName(accountID string) string {
	return BucketPrefix + accountID
}

// BuildTrustDocument builds the trust document, which allows the service
// account of the cluster identified by the issuer URL to assume the role.
func BuildTrustDocument(accountID, region, issuerURL string) (Document, error) {
	id, err := OIDCProviderID(issuerURL)
	if err != nil {
		return Document{}, err
	}

	host := ProviderHost(region, id)
	doc := Document{
		Version: Version,
		Statement: []Statement{
			{
				Effect:    EffectAllow,
				Principal: &Principal{Federated: ProviderARN(accountID, region, id)},
				Action:    Values{ActionAssumeRoleWithWebIdentity},
				Condition: Condition{
					"StringEquals": {
						host + ":sub": ServiceAccountSubject,
					},
				},
			},
		},
	}

	return doc, nil
}

// BuildInlinePolicy builds the inline policy, which grants access to the
// per-account bucket and the objects in it. The policy is identical for every
// role of the account.
func BuildInlinePolicy(accountID string) Document {
	bucketARN := "arn:aws:s3:::" + BucketName(accountID)

	return Document{
		Version: Version,
		Statement: []Statement{
			{
				Effect: EffectAllow,
				Action: Values{
					"s3:PutObject",
					"s3:GetObject",
					"s3:ListBucket",
				},
				Resource: Values{
					bucketARN,
					bucketARN + "/*",
				},
			},
		},
	}
}
