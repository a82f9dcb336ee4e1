// Package enrich implements External Enrichment: best-effort host identity
// (cloud instance metadata) and instance hourly cost lookup. Every field is
// optional; failures are swallowed and leave the corresponding field unset
// rather than failing the run.
package enrich

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// InstanceMetadata is the cloud host identity best-effort lookup returns.
type InstanceMetadata struct {
	Region       string
	AZ           string
	InstanceID   string
	InstanceType string
}

// MetadataProvider fetches cloud instance metadata. Implementations wrap
// the EC2 instance metadata service; nil is a valid Enricher dependency
// for non-cloud hosts, in which case cloud fields are always absent.
type MetadataProvider interface {
	InstanceMetadata(ctx context.Context) (InstanceMetadata, error)
}

// PriceLookup resolves the hourly price of an EC2-class instance type in a
// region. See Selector and SelectMostExpensive for the "most expensive
// match" heuristic.
type PriceLookup interface {
	HourlyPrice(ctx context.Context, region, instanceType string) (float64, error)
}

// Enricher composes best-effort host identity and pricing lookups into a
// SystemProperties attribute for the new_run event.
type Enricher struct {
	metadata MetadataProvider
	pricing  PriceLookup
}

// New constructs an Enricher. Either dependency may be nil, in which case
// the corresponding fields are always left unset.
func New(metadata MetadataProvider, pricing PriceLookup) *Enricher {
	return &Enricher{metadata: metadata, pricing: pricing}
}

// SystemProperties gathers host identity for the new_run event. Local
// (non-cloud) properties always succeed; cloud metadata and pricing are
// best-effort and are simply omitted on failure.
func (e *Enricher) SystemProperties(ctx context.Context) types.SystemPropertiesAttributes {
	props := types.SystemPropertiesAttributes{
		OS:       runtime.GOOS,
		CPUCount: runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		props.Hostname = hostname
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		props.KernelVersion = info.KernelVersion
		if props.Hostname == "" {
			props.Hostname = info.Hostname
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		props.TotalMemoryBytes = vm.Total
	}

	if e.metadata == nil {
		return props
	}

	meta, err := e.metadata.InstanceMetadata(ctx)
	if err != nil {
		return props // missing optional collaborator: leave cloud fields unset
	}

	props.CloudRegion = meta.Region
	props.CloudAZ = meta.AZ
	props.CloudInstanceID = meta.InstanceID
	props.CloudInstanceType = meta.InstanceType

	if e.pricing == nil || meta.InstanceType == "" {
		return props
	}

	price, err := e.pricing.HourlyPrice(ctx, meta.Region, meta.InstanceType)
	if err != nil {
		return props // pricing unavailable: leave hourly_price_usd unset
	}

	props.HourlyPriceUSD = &price
	return props
}
