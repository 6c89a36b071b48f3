package models

import (
	"time"

	"github.com/google/uuid"
)

// Domain is one generated candidate domain for a campaign. Validation
// workers page through a campaign's domains with offset+batch payloads, so
// rows sort deterministically by name.
type Domain struct {
	ID         string    `json:"id" badgerhold:"key"` // campaignID|domain
	CampaignID uuid.UUID `json:"campaign_id" badgerhold:"index"`
	Domain     string    `json:"domain"`

	DNSValid     bool       `json:"dns_valid"`
	DNSCheckedAt *time.Time `json:"dns_checked_at,omitempty"`

	HTTPValid     bool       `json:"http_valid"`
	KeywordScore  float64    `json:"keyword_score,omitempty"`
	HTTPCheckedAt *time.Time `json:"http_checked_at,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// DomainKey builds the storage key for a (campaign, domain) pair
func DomainKey(campaignID uuid.UUID, domain string) string {
	return campaignID.String() + "|" + domain
}

// NewDomain creates a freshly generated, unvalidated domain row
func NewDomain(campaignID uuid.UUID, domain string) *Domain {
	return &Domain{
		ID:          DomainKey(campaignID, domain),
		CampaignID:  campaignID,
		Domain:      domain,
		GeneratedAt: time.Now().UTC(),
	}
}
