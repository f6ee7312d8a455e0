// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package aws

import (
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nops-io/ccost-roles/pkg/ccost/reconcile"
	"github.com/nops-io/ccost-roles/pkg/core/registry"
)

// MaxAttempts is the maximum number of attempts of a single IAM or EKS API
// call. Both are called once per role with the reconciler concurrency, and
// IAM in particular has low request rate limits.
const MaxAttempts = 5

// MaxBackoff is the maximum backoff between attempts of a single IAM or EKS
// API call.
const MaxBackoff = 10 * time.Second

// Clientset provides the AWS API clients of an account.
type Clientset struct {
	// Config is the configuration the clients were created from.
	Config aws.Config

	IAM *iam.Client
	STS *sts.Client
	EC2 *ec2.Client
	S3  *s3.Client

	// eks is the registry of regional EKS clients.
	eks *registry.Registry[string, *eks.Client]
}

// NewClientset creates the API clients for the given configuration.
func NewClientset(conf aws.Config) *Clientset {
	cs := &Clientset{
		Config: conf,
		IAM: iam.NewFromConfig(conf, func(o *iam.Options) {
			o.Retryer = newRetryer()
		}),
		STS: sts.NewFromConfig(conf),
		EC2: ec2.NewFromConfig(conf),
		S3:  s3.NewFromConfig(conf),
		eks: registry.New[string, *eks.Client](),
	}

	return cs
}

// newRetryer returns the retryer of the IAM and EKS clients. The standard
// retryer keeps per-client retry quota, so each client gets its own.
func newRetryer() aws.Retryer {
	return retry.NewStandard(func(o *retry.StandardOptions) {
		o.MaxAttempts = MaxAttempts
		o.MaxBackoff = MaxBackoff
	})
}

// Region returns the region of the clientset.
func (c *Clientset) Region() string {
	return c.Config.Region
}

// EKS returns the EKS client for the given region. Clients are created on
// first use and reused afterwards.
func (c *Clientset) EKS(region string) *eks.Client {
	return c.eks.GetOrCreate(region, func() *eks.Client {
		return eks.NewFromConfig(c.Config, func(o *eks.Options) {
			o.Region = region
			o.Retryer = newRetryer()
		})
	})
}

// EKSRegions returns the regions for which an EKS client has been created.
func (c *Clientset) EKSRegions() []string {
	return c.eks.Keys()
}

// ReconcileClients returns the clients of a reconciliation pass.
func (c *Clientset) ReconcileClients() reconcile.Clients {
	return reconcile.Clients{
		STS: c.STS,
		IAM: c.IAM,
		EC2: c.EC2,
		S3:  c.S3,
		EKS: func(region string) reconcile.EKSAPI {
			return c.EKS(region)
		},
	}
}

// defaultClientset is the [Clientset] configured during startup.
var defaultClientset atomic.Pointer[Clientset]

// SetDefault sets the default [Clientset].
func SetDefault(cs *Clientset) {
	defaultClientset.Store(cs)
}

// Default returns the default [Clientset], or nil if it has not been set.
func Default() *Clientset {
	return defaultClientset.Load()
}
