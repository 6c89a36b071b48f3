package workers

import (
	"context"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

const dnsLookupTimeout = 5 * time.Second

// HandleDNSValidation resolves one batch of generated domains. Every domain
// in the batch counts as processed whether or not it resolves; resolution
// results are recorded on the domain rows for the HTTP phase.
func (s *Service) HandleDNSValidation(ctx context.Context, job *models.CampaignJob) (map[string]interface{}, error) {
	offset, limit, err := batchWindow(job)
	if err != nil {
		return nil, err
	}

	batch, err := s.domains.ListDomains(ctx, job.CampaignID, offset, limit, false)
	if err != nil {
		return nil, err
	}

	processed := int64(0)
	resolved := int64(0)
	now := time.Now().UTC()

	for _, domain := range batch {
		if err := ctx.Err(); err != nil {
			return map[string]interface{}{"processed": processed, "resolved": resolved}, err
		}

		lookupCtx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
		addrs, lookupErr := s.resolver.LookupHost(lookupCtx, domain.Domain)
		cancel()

		checkedAt := now
		domain.DNSCheckedAt = &checkedAt
		domain.DNSValid = lookupErr == nil && len(addrs) > 0
		if domain.DNSValid {
			resolved++
		}
		processed++
	}

	if err := s.domains.SaveDomains(ctx, batch); err != nil {
		return map[string]interface{}{"processed": processed, "resolved": resolved}, err
	}

	updated, err := s.updateCampaign(ctx, job.CampaignID, func(c *models.Campaign) {
		c.DomainsValidatedCount += processed
	})
	if err != nil {
		return map[string]interface{}{"processed": processed, "resolved": resolved}, err
	}

	s.publishEvent(ctx, &models.CampaignEvent{
		Type:       models.EventDomainValidated,
		CampaignID: job.CampaignID.String(),
		Payload: &models.DomainValidatedPayload{
			Valid: resolved > 0,
			Count: updated.DomainsValidatedCount,
			Total: updated.DomainsGeneratedCount,
		},
	})
	s.publishProgress(ctx, updated,
		pct(updated.DomainsValidatedCount, updated.DomainsGeneratedCount),
		updated.DomainsValidatedCount, updated.DomainsGeneratedCount,
		"DNS validation in progress")

	s.logger.Debug().
		Str("campaign_id", job.CampaignID.String()).
		Int64("processed", processed).
		Int64("resolved", resolved).
		Int("offset", offset).
		Msg("DNS validation batch finished")

	return map[string]interface{}{"processed": processed, "resolved": resolved}, nil
}
