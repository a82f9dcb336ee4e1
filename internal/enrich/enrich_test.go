package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMetadata struct {
	meta InstanceMetadata
	err  error
}

func (s stubMetadata) InstanceMetadata(ctx context.Context) (InstanceMetadata, error) {
	return s.meta, s.err
}

type stubPricing struct {
	price float64
	err   error
}

func (s stubPricing) HourlyPrice(ctx context.Context, region, instanceType string) (float64, error) {
	return s.price, s.err
}

func TestSystemPropertiesWithoutCollaborators(t *testing.T) {
	e := New(nil, nil)
	props := e.SystemProperties(context.Background())

	assert.NotEmpty(t, props.OS)
	assert.Greater(t, props.CPUCount, 0)
	assert.Empty(t, props.CloudRegion)
	assert.Nil(t, props.HourlyPriceUSD)
}

func TestSystemPropertiesMetadataFailureLeavesCloudFieldsUnset(t *testing.T) {
	e := New(stubMetadata{err: errors.New("no imds")}, stubPricing{price: 1.0})
	props := e.SystemProperties(context.Background())

	assert.Empty(t, props.CloudInstanceType)
	assert.Nil(t, props.HourlyPriceUSD)
}

func TestSystemPropertiesPopulatesCloudAndPrice(t *testing.T) {
	meta := InstanceMetadata{Region: "us-east-1", AZ: "us-east-1a", InstanceID: "i-123", InstanceType: "m5.large"}
	e := New(stubMetadata{meta: meta}, stubPricing{price: 0.096})
	props := e.SystemProperties(context.Background())

	assert.Equal(t, "us-east-1", props.CloudRegion)
	assert.Equal(t, "i-123", props.CloudInstanceID)
	require.NotNil(t, props.HourlyPriceUSD)
	assert.InDelta(t, 0.096, *props.HourlyPriceUSD, 1e-9)
}

func TestSystemPropertiesPricingFailureLeavesPriceUnset(t *testing.T) {
	meta := InstanceMetadata{Region: "us-east-1", InstanceType: "m5.large"}
	e := New(stubMetadata{meta: meta}, stubPricing{err: errNoMatch})
	props := e.SystemProperties(context.Background())

	assert.Equal(t, "m5.large", props.CloudInstanceType)
	assert.Nil(t, props.HourlyPriceUSD)
}

func TestSelectMostExpensivePicksHighestPrice(t *testing.T) {
	offers := []priceOffer{{PricePerUnit: 0.05}, {PricePerUnit: 0.12}, {PricePerUnit: 0.08}}
	best, ok := SelectMostExpensive(offers)
	require.True(t, ok)
	assert.Equal(t, 0.12, best.PricePerUnit)
}

func TestSelectMostExpensiveEmpty(t *testing.T) {
	_, ok := SelectMostExpensive(nil)
	assert.False(t, ok)
}

func TestParsePriceListEntryExtractsUSDPrice(t *testing.T) {
	raw := `{
		"terms": {
			"OnDemand": {
				"sku.offer": {
					"priceDimensions": {
						"sku.offer.dim": {
							"pricePerUnit": {"USD": "0.0960000000"}
						}
					}
				}
			}
		}
	}`
	offer, ok := parsePriceListEntry(raw)
	require.True(t, ok)
	assert.InDelta(t, 0.096, offer.PricePerUnit, 1e-9)
}

func TestParsePriceListEntryMalformedJSON(t *testing.T) {
	_, ok := parsePriceListEntry("not json")
	assert.False(t, ok)
}

func TestRegionToLocationKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "US East (N. Virginia)", regionToLocation("us-east-1"))
	assert.Equal(t, "mars-west-1", regionToLocation("mars-west-1"))
}
