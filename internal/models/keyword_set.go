package models

import "fmt"

// Keyword is one weighted match pattern within a keyword set.
type Keyword struct {
	Pattern string  `json:"pattern" yaml:"pattern"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// KeywordSet groups the keywords a campaign matches against fetched pages
// during http_keyword_validation. Sets are loaded from YAML files in the
// configured keyword directory; at least one active set is a precondition for
// starting a campaign.
type KeywordSet struct {
	ID       string    `json:"id" yaml:"id" badgerhold:"key"`
	Name     string    `json:"name" yaml:"name"`
	Active   bool      `json:"active" yaml:"active"`
	Keywords []Keyword `json:"keywords" yaml:"keywords"`
}

// Validate checks the loaded set is usable.
func (k *KeywordSet) Validate() error {
	if k.ID == "" {
		return fmt.Errorf("keyword set id is required")
	}
	if len(k.Keywords) == 0 {
		return fmt.Errorf("keyword set %s has no keywords", k.ID)
	}
	for i, kw := range k.Keywords {
		if kw.Pattern == "" {
			return fmt.Errorf("keyword set %s: keyword %d has empty pattern", k.ID, i)
		}
	}
	return nil
}
