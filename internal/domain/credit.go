package domain

import "time"

// CreditType is the unit a task debits.
type CreditType string

const (
	CreditLogo     CreditType = "logo"
	CreditMockup   CreditType = "mockup"
	CreditAnalysis CreditType = "analysis"
	CreditVideo    CreditType = "video"
)

// CreditTypes lists every credit type in a stable order.
func CreditTypes() []CreditType {
	return []CreditType{CreditLogo, CreditMockup, CreditAnalysis, CreditVideo}
}

// CreditTypeFor maps a task type to the credit it consumes. Bundle
// compositions draw from the mockup allotment.
func CreditTypeFor(t TaskType) CreditType {
	switch t {
	case TaskLogo:
		return CreditLogo
	case TaskMockup, TaskBundleComposition:
		return CreditMockup
	case TaskAnalysis:
		return CreditAnalysis
	case TaskVideo:
		return CreditVideo
	}
	return ""
}

// Tier names a subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierAgency  Tier = "agency"
)

// CreditEntry is one ledger row for a user, credit type and billing period.
type CreditEntry struct {
	ID          string
	UserID      string
	CreditType  CreditType
	Tier        Tier
	Remaining   int
	Used        int
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the entry's period covers now.
func (e CreditEntry) Active(now time.Time) bool {
	return !now.Before(e.PeriodStart) && now.Before(e.PeriodEnd)
}

// Balance summarizes one credit type for a user.
type Balance struct {
	CreditType CreditType `json:"creditType"`
	Remaining  int        `json:"remaining"`
	Used       int        `json:"used"`
	Total      int        `json:"total"`
	PeriodEnd  time.Time  `json:"periodEnd"`
}
