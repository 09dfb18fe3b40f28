// Package geo resolves client IPs to coarse geographic regions for the
// suspicious-login heuristic. Resolution is best-effort: every failure
// degrades to RegionUnknown, never to an error.
package geo

import "context"

// Region is a coarse location bucket, typically an ISO 3166-1 alpha-2
// country code.
type Region string

// RegionUnknown means the resolver could not place the IP.
const RegionUnknown Region = ""

// Resolver maps an IP address to a Region.
type Resolver interface {
	Locate(ctx context.Context, ip string) Region
}

// Static is a fixed IP-to-region map, useful for tests and air-gapped
// deployments.
type Static map[string]Region

func (s Static) Locate(_ context.Context, ip string) Region {
	return s[ip]
}
