package gatekeeper

import "sync/atomic"

// Outcome is the terminal state of one AuthorizeIssuance call.
type Outcome string

const (
	OutcomeIssued                Outcome = "issued"
	OutcomeRejectedUnauthorized  Outcome = "rejected_unauthorized"
	OutcomeRejectedIdentityQuota Outcome = "rejected_identity_quota"
	OutcomeRejectedGlobalQuota   Outcome = "rejected_global_quota"
	OutcomeIssuerFailure         Outcome = "issuer_failure"
	OutcomeQuotaUnavailable      Outcome = "quota_unavailable"
)

// Stats counts outcomes. The zero value is ready to use and safe for concurrent use.
type Stats struct {
	issued           atomic.Int64
	unauthorized     atomic.Int64
	identityQuota    atomic.Int64
	globalQuota      atomic.Int64
	issuerFailure    atomic.Int64
	quotaUnavailable atomic.Int64
}

// Record increments the counter for o.
func (s *Stats) Record(o Outcome) {
	switch o {
	case OutcomeIssued:
		s.issued.Add(1)
	case OutcomeRejectedUnauthorized:
		s.unauthorized.Add(1)
	case OutcomeRejectedIdentityQuota:
		s.identityQuota.Add(1)
	case OutcomeRejectedGlobalQuota:
		s.globalQuota.Add(1)
	case OutcomeIssuerFailure:
		s.issuerFailure.Add(1)
	case OutcomeQuotaUnavailable:
		s.quotaUnavailable.Add(1)
	}
}

// Snapshot returns the current counters keyed by outcome.
func (s *Stats) Snapshot() map[Outcome]int64 {
	return map[Outcome]int64{
		OutcomeIssued:                s.issued.Load(),
		OutcomeRejectedUnauthorized:  s.unauthorized.Load(),
		OutcomeRejectedIdentityQuota: s.identityQuota.Load(),
		OutcomeRejectedGlobalQuota:   s.globalQuota.Load(),
		OutcomeIssuerFailure:         s.issuerFailure.Load(),
		OutcomeQuotaUnavailable:      s.quotaUnavailable.Load(),
	}
}
