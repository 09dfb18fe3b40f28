package service

import (
	"context"

	"github.com/aussiebroadwan/turnstile/internal/session/geo"
)

// SuspicionService flags logins from a coarse geographic region that does
// not match any region previously observed for the principal.
//
// The heuristic errs on the quiet side: a principal with no issuance
// history is never suspicious (nothing to compare against), and a login IP
// the resolver cannot place is never suspicious (an unknown region would
// otherwise flag every login behind an unmapped range).
type SuspicionService struct {
	Trail    AuditLog
	Resolver geo.Resolver
}

func (s *SuspicionService) IsSuspicious(ctx context.Context, principalID, loginIP string) bool {
	ips, err := s.Trail.DistinctClientIPs(ctx, principalID, loginIP)
	if err != nil || len(ips) == 0 {
		return false
	}

	loginRegion := s.Resolver.Locate(ctx, loginIP)
	if loginRegion == geo.RegionUnknown {
		return false
	}

	for _, ip := range ips {
		if s.Resolver.Locate(ctx, ip) == loginRegion {
			return false
		}
	}
	return true
}
