package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// pricingAPIRegion is hardcoded: the AWS Price List API is only served from
// us-east-1 and ap-south-1, regardless of the region the priced instance
// actually runs in.
const pricingAPIRegion = "us-east-1"

const (
	maxRetries         = 3
	initialRetryDelay  = time.Second
)

// priceOffer is one matched pricing result, reduced to what the selector
// needs to compare offers.
type priceOffer struct {
	PricePerUnit float64
	RawJSON      string
}

// Selector picks the offer to report from a set of matching price list
// entries. The default, SelectMostExpensive, preserves the source system's
// heuristic; it is exposed as a field on PricingClient so callers can
// substitute another policy (e.g. cheapest, or median) without touching the
// retry/backoff machinery.
type Selector func(offers []priceOffer) (priceOffer, bool)

// SelectMostExpensive returns the offer with the highest PricePerUnit. This
// mirrors the upstream pricing lookup, which treats the most expensive
// matching SKU as the representative on-demand price when a filter set
// (instance type, region, OS) still matches more than one SKU.
func SelectMostExpensive(offers []priceOffer) (priceOffer, bool) {
	if len(offers) == 0 {
		return priceOffer{}, false
	}
	best := offers[0]
	for _, o := range offers[1:] {
		if o.PricePerUnit > best.PricePerUnit {
			best = o
		}
	}
	return best, true
}

// PricingClient looks up the on-demand hourly price of an EC2 instance type
// via the AWS Price List Query API, retrying on transient failure with
// exponential backoff.
type PricingClient struct {
	client   *pricing.Client
	selector Selector
}

// NewPricingClient builds a PricingClient pinned to pricingAPIRegion,
// independent of the instance's own region.
func NewPricingClient(ctx context.Context) (*PricingClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(pricingAPIRegion))
	if err != nil {
		return nil, fmt.Errorf("enrich: load aws config for pricing: %w", err)
	}
	return &PricingClient{
		client:   pricing.NewFromConfig(cfg),
		selector: SelectMostExpensive,
	}, nil
}

// WithSelector returns a copy of the client using the given offer selector.
func (c *PricingClient) WithSelector(sel Selector) *PricingClient {
	clone := *c
	clone.selector = sel
	return &clone
}

// errNoMatch signals a definitive empty result: the query succeeded but no
// SKUs matched the filter set. Unlike a transport or throttling error, this
// is not retried.
var errNoMatch = errors.New("enrich: no matching price list entries")

// HourlyPrice implements PriceLookup. It makes at most maxRetries attempts
// in total, waiting initialRetryDelay * 2^(attempt-1) after a transient
// failure, but
// returns immediately, without retry, when the API responds successfully
// with zero matching products.
func (c *PricingClient) HourlyPrice(ctx context.Context, region, instanceType string) (float64, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		price, err := c.attempt(ctx, region, instanceType)
		if err == nil {
			return price, nil
		}
		if errors.Is(err, errNoMatch) {
			return 0, err
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		delay := initialRetryDelay * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, fmt.Errorf("enrich: pricing lookup failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *PricingClient) attempt(ctx context.Context, region, instanceType string) (float64, error) {
	filters := []types.Filter{
		{Type: types.FilterTypeTermMatch, Field: aws.String("instanceType"), Value: aws.String(instanceType)},
		{Type: types.FilterTypeTermMatch, Field: aws.String("location"), Value: aws.String(regionToLocation(region))},
		{Type: types.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
		{Type: types.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
		{Type: types.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
		{Type: types.FilterTypeTermMatch, Field: aws.String("capacitystatus"), Value: aws.String("Used")},
	}

	var offers []priceOffer
	var nextToken *string
	for {
		out, err := c.client.GetProducts(ctx, &pricing.GetProductsInput{
			ServiceCode: aws.String("AmazonEC2"),
			Filters:     filters,
			NextToken:   nextToken,
		})
		if err != nil {
			return 0, fmt.Errorf("enrich: get products: %w", err)
		}

		for _, raw := range out.PriceList {
			if offer, ok := parsePriceListEntry(raw); ok {
				offers = append(offers, offer)
			}
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		nextToken = out.NextToken
	}

	if len(offers) == 0 {
		return 0, errNoMatch
	}

	best, ok := c.selector(offers)
	if !ok {
		return 0, errNoMatch
	}
	return best.PricePerUnit, nil
}

// priceListProduct is the minimal shape needed out of a Price List API
// product JSON blob to extract the on-demand price-per-unit.
type priceListProduct struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

func parsePriceListEntry(raw string) (priceOffer, bool) {
	var product priceListProduct
	if err := json.Unmarshal([]byte(raw), &product); err != nil {
		return priceOffer{}, false
	}

	for _, term := range product.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err != nil {
				continue
			}
			return priceOffer{PricePerUnit: price, RawJSON: raw}, true
		}
	}
	return priceOffer{}, false
}

// regionToLocation maps an AWS region code to the Price List API's
// human-readable location name it requires as a filter value. Only regions
// likely to host a tracked pipeline are listed; unknown regions fall back
// to the region code itself, which yields a (correctly) empty, non-fatal
// match set.
func regionToLocation(region string) string {
	names := map[string]string{
		"us-east-1":      "US East (N. Virginia)",
		"us-east-2":      "US East (Ohio)",
		"us-west-1":      "US West (N. California)",
		"us-west-2":      "US West (Oregon)",
		"eu-west-1":      "EU (Ireland)",
		"eu-central-1":   "EU (Frankfurt)",
		"ap-south-1":     "Asia Pacific (Mumbai)",
		"ap-southeast-1": "Asia Pacific (Singapore)",
		"ap-southeast-2": "Asia Pacific (Sydney)",
		"ap-northeast-1": "Asia Pacific (Tokyo)",
	}
	if name, ok := names[region]; ok {
		return name
	}
	return region
}
