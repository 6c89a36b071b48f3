package workers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/leadflowhq/leadflow/internal/models"
)

// HandleHTTPKeywordValidation fetches one batch of DNS-valid domains and
// scores their pages against the campaign's keyword set. Fetch failures
// count as processed: the batch must finish even when most candidate sites
// are unreachable.
func (s *Service) HandleHTTPKeywordValidation(ctx context.Context, job *models.CampaignJob) (map[string]interface{}, error) {
	offset, limit, err := batchWindow(job)
	if err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return nil, err
	}

	keywords, err := s.campaignKeywords(ctx, campaign)
	if err != nil {
		return nil, err
	}

	batch, err := s.domains.ListDomains(ctx, job.CampaignID, offset, limit, true)
	if err != nil {
		return nil, err
	}

	processed := int64(0)
	matched := int64(0)
	now := time.Now().UTC()

	for _, domain := range batch {
		if err := ctx.Err(); err != nil {
			return map[string]interface{}{"processed": processed, "matched": matched}, err
		}

		score := s.fetchAndScore(ctx, domain.Domain, keywords)
		checkedAt := now
		domain.HTTPCheckedAt = &checkedAt
		domain.KeywordScore = score
		domain.HTTPValid = score > 0
		if domain.HTTPValid {
			matched++
		}
		processed++
	}

	if err := s.domains.SaveDomains(ctx, batch); err != nil {
		return map[string]interface{}{"processed": processed, "matched": matched}, err
	}

	updated, err := s.updateCampaign(ctx, job.CampaignID, func(c *models.Campaign) {
		c.HTTPValidatedCount += processed
	})
	if err != nil {
		return map[string]interface{}{"processed": processed, "matched": matched}, err
	}

	s.publishProgress(ctx, updated,
		pct(updated.HTTPValidatedCount, updated.HTTPTotalCount),
		updated.HTTPValidatedCount, updated.HTTPTotalCount,
		"Keyword validation in progress")

	s.logger.Debug().
		Str("campaign_id", job.CampaignID.String()).
		Int64("processed", processed).
		Int64("matched", matched).
		Int("offset", offset).
		Msg("HTTP keyword batch finished")

	return map[string]interface{}{"processed": processed, "matched": matched}, nil
}

// campaignKeywords resolves the campaign's keyword set, falling back to all
// active sets when no specific set is assigned.
func (s *Service) campaignKeywords(ctx context.Context, campaign *models.Campaign) ([]models.Keyword, error) {
	if campaign.KeywordSetID != "" {
		set, err := s.keywords.GetKeywordSet(ctx, campaign.KeywordSetID)
		if err != nil {
			return nil, err
		}
		return set.Keywords, nil
	}

	sets, err := s.keywords.ListActiveKeywordSets(ctx)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no active keyword sets configured")
	}

	var keywords []models.Keyword
	for _, set := range sets {
		keywords = append(keywords, set.Keywords...)
	}
	return keywords, nil
}

// fetchAndScore fetches the domain's front page and sums the weights of
// keywords found in its visible text. Any fetch or parse failure scores 0.
func (s *Service) fetchAndScore(ctx context.Context, domain string, keywords []models.Keyword) float64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+domain+"/", nil)
	if err != nil {
		return 0
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return 0
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0
	}

	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(doc.Find("body").Text())
	title := strings.ToLower(doc.Find("title").Text())

	score := 0.0
	for _, kw := range keywords {
		pattern := strings.ToLower(kw.Pattern)
		if pattern == "" {
			continue
		}
		weight := kw.Weight
		if weight == 0 {
			weight = 1
		}
		// Title hits weigh double
		if strings.Contains(title, pattern) {
			score += weight * 2
		} else if strings.Contains(text, pattern) {
			score += weight
		}
	}
	return score
}
