// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nops-io/ccost-roles/pkg/aws/stscreds/provider"
	"github.com/nops-io/ccost-roles/pkg/aws/stscreds/tokenfile"
	"github.com/nops-io/ccost-roles/pkg/core/config"
)

// ErrNoRegion is an error which is returned when there was no region or
// default region configured for the AWS client.
var ErrNoRegion = errors.New("no AWS region specified")

// ErrUnknownTokenRetriever is an error, which is returned when using an
// unknown/unsupported identity token retriever.
var ErrUnknownTokenRetriever = errors.New("unknown AWS token retriever specified")

// newTokenFileCredentialsProvider creates a new [aws.CredentialsProvider],
// which reads a JWT token from a specified path and exchanges the token for
// temporary security credentials when accessing AWS resources.
func newTokenFileCredentialsProvider(conf *config.Config) (aws.CredentialsProvider, error) {
	spec := conf.AWS.Credentials.TokenFile
	tokenRetriever, err := tokenfile.NewTokenRetriever(
		tokenfile.WithPath(spec.Path),
	)
	if err != nil {
		return nil, err
	}

	// The STS client used for the token exchange must not use the
	// credentials it provides.
	stsClient := sts.NewFromConfig(aws.Config{
		Region: region(conf),
		AppID:  conf.AWS.AppID,
	})

	providerSpec := &provider.Spec{
		Client:          stsClient,
		RoleARN:         spec.RoleARN,
		RoleSessionName: spec.RoleSessionName,
		Duration:        spec.Duration,
		TokenRetriever:  tokenRetriever,
	}

	return provider.New(providerSpec)
}

// region returns the configured region, or the default region.
func region(conf *config.Config) string {
	if conf.AWS.Region != "" {
		return conf.AWS.Region
	}

	return conf.AWS.DefaultRegion
}

// LoadConfig loads the shared AWS configuration, using the credentials
// retriever from the given [config.Config]. The region falls back to the
// shared configuration and the environment, e.g. AWS_REGION.
func LoadConfig(ctx context.Context, conf *config.Config) (aws.Config, error) {
	// Default set of options
	opts := []func(o *awsconfig.LoadOptions) error{
		awsconfig.WithAppID(conf.AWS.AppID),
	}
	if conf.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.AWS.Region))
	}
	if conf.AWS.DefaultRegion != "" {
		opts = append(opts, awsconfig.WithDefaultRegion(conf.AWS.DefaultRegion))
	}

	switch conf.AWS.Credentials.TokenRetriever {
	case "", config.DefaultAWSTokenRetriever:
		// Default credentials chain only
		break // nolint: revive
	case tokenfile.TokenRetrieverName:
		credsProvider, err := newTokenFileCredentialsProvider(conf)
		if err != nil {
			return aws.Config{}, err
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(credsProvider))
	default:
		return aws.Config{}, fmt.Errorf("%w: %s", ErrUnknownTokenRetriever, conf.AWS.Credentials.TokenRetriever)
	}

	awsConf, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsConf.Region == "" {
		return aws.Config{}, ErrNoRegion
	}

	return awsConf, nil
}
