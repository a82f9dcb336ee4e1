package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// IMDSProvider fetches instance metadata from the EC2 instance metadata
// service. Nothing is cached: every call queries the service again, and on
// a non-EC2 host every call fails; callers treat that as "no cloud
// metadata available" rather than a fatal error.
type IMDSProvider struct {
	client *imds.Client
}

// NewIMDSProvider constructs an IMDSProvider using the default IMDS client
// configuration (IMDSv2 token flow, falling back to v1 where permitted).
func NewIMDSProvider() *IMDSProvider {
	return &IMDSProvider{client: imds.New(imds.Options{})}
}

// InstanceMetadata implements MetadataProvider.
func (p *IMDSProvider) InstanceMetadata(ctx context.Context) (InstanceMetadata, error) {
	doc, err := p.client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return InstanceMetadata{}, fmt.Errorf("enrich: fetch instance identity document: %w", err)
	}

	az := doc.AvailabilityZone
	region := doc.Region
	if region == "" && az != "" {
		region = strings.TrimSuffix(az, az[len(az)-1:])
	}

	return InstanceMetadata{
		Region:       region,
		AZ:           az,
		InstanceID:   doc.InstanceID,
		InstanceType: doc.InstanceType,
	}, nil
}
