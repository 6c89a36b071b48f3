package workers

import (
	"context"
	"fmt"

	"github.com/leadflowhq/leadflow/internal/models"
)

const saveBatchSize = 500

// HandleDomainGeneration expands the campaign's generation params into
// candidate domains. Generation is deterministic: the same params always
// produce the same domains in the same order.
func (s *Service) HandleDomainGeneration(ctx context.Context, job *models.CampaignJob) (map[string]interface{}, error) {
	campaign, err := s.campaigns.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.GenerationParams == nil {
		return nil, fmt.Errorf("campaign %s has no generation params", campaign.ID)
	}

	target := campaign.TargetDomainCount
	if target <= 0 {
		return nil, fmt.Errorf("campaign %s has no target domain count", campaign.ID)
	}

	generated := int64(0)
	batch := make([]*models.Domain, 0, saveBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.domains.SaveDomains(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err = expandDomains(campaign.GenerationParams, target, func(domain string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = append(batch, models.NewDomain(campaign.ID, domain))
		generated++
		if len(batch) >= saveBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return map[string]interface{}{"generated_count": generated}, err
	}
	if err := flush(); err != nil {
		return map[string]interface{}{"generated_count": generated}, err
	}

	updated, err := s.updateCampaign(ctx, campaign.ID, func(c *models.Campaign) {
		c.DomainsGeneratedCount = generated
	})
	if err != nil {
		return map[string]interface{}{"generated_count": generated}, err
	}

	s.publishEvent(ctx, &models.CampaignEvent{
		Type:       models.EventDomainGenerated,
		CampaignID: campaign.ID.String(),
		Payload: &models.DomainGeneratedPayload{
			Count: generated,
			Total: target,
		},
	})
	s.publishProgress(ctx, updated, pct(generated, target), generated, target, "Domains generated")

	s.logger.Info().
		Str("campaign_id", campaign.ID.String()).
		Int64("generated", generated).
		Int64("target", target).
		Msg("Domain generation finished")

	return map[string]interface{}{"generated_count": generated}, nil
}

// expandDomains enumerates pattern+variant+tld combinations in lexicographic
// order, stopping at the limit. A zero variable length yields one variant per
// TLD (the bare pattern).
func expandDomains(params *models.GenerationParams, limit int64, emit func(string) error) error {
	charset := params.CharacterSet
	if charset == "" {
		charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	}

	count := int64(0)
	var walk func(prefix string, depth int) error
	walk = func(prefix string, depth int) error {
		if depth == 0 {
			for _, tld := range params.TLDs {
				if count >= limit {
					return nil
				}
				if err := emit(params.Pattern + prefix + "." + tld); err != nil {
					return err
				}
				count++
			}
			return nil
		}
		for _, ch := range charset {
			if count >= limit {
				return nil
			}
			if err := walk(prefix+string(ch), depth-1); err != nil {
				return err
			}
		}
		return nil
	}

	return walk("", params.VariableLength)
}

func pct(processed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	rate := float64(processed) / float64(total) * 100
	if rate > 100 {
		rate = 100
	}
	return rate
}
