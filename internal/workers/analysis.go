package workers

import (
	"context"

	"github.com/leadflowhq/leadflow/internal/models"
)

// HandleAnalysis closes out the pipeline: reconcile the campaign's counters
// against the stored domain rows and publish the final summary.
func (s *Service) HandleAnalysis(ctx context.Context, job *models.CampaignJob) (map[string]interface{}, error) {
	generated, err := s.domains.CountDomains(ctx, job.CampaignID, false)
	if err != nil {
		return nil, err
	}
	dnsValid, err := s.domains.CountDomains(ctx, job.CampaignID, true)
	if err != nil {
		return nil, err
	}

	leads := int64(0)
	// Page through DNS-valid rows to count keyword matches
	const page = 500
	for offset := 0; ; offset += page {
		batch, err := s.domains.ListDomains(ctx, job.CampaignID, offset, page, true)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, d := range batch {
			if d.HTTPValid {
				leads++
			}
		}
	}

	updated, err := s.updateCampaign(ctx, job.CampaignID, func(c *models.Campaign) {
		// Authoritative counts from storage win over worker increments
		c.DomainsGeneratedCount = generated
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, &models.CampaignEvent{
		Type:       models.EventCountersReconciled,
		CampaignID: job.CampaignID.String(),
		Payload: &models.CountersReconciledPayload{
			Generated:     generated,
			Validated:     updated.DomainsValidatedCount,
			HTTPValidated: updated.HTTPValidatedCount,
		},
	})

	results := map[string]interface{}{
		"domains_generated": generated,
		"dns_valid":         dnsValid,
		"keyword_matches":   leads,
	}

	s.publishEvent(ctx, &models.CampaignEvent{
		Type:       models.EventAnalysisCompleted,
		CampaignID: job.CampaignID.String(),
		Payload: &models.AnalysisCompletedPayload{
			Results: results,
		},
	})

	s.logger.Info().
		Str("campaign_id", job.CampaignID.String()).
		Int64("domains_generated", generated).
		Int64("dns_valid", dnsValid).
		Int64("keyword_matches", leads).
		Msg("Analysis finished")

	return results, nil
}
