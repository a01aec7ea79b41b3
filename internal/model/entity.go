package model

import (
	"strings"
	"time"
)

// EntityType distinguishes the two kinds of enrichable records.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityContact EntityType = "contact"
)

// Entity is a business record (a company or an associated person).
type Entity struct {
	ID           string     `json:"id"`
	Type         EntityType `json:"type"`
	CompanyID    string     `json:"company_id,omitempty"` // parent company for contacts
	Name         string     `json:"name"`
	Domain       string     `json:"domain,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"` // ISO 3166-1 alpha-2, lowercase
	OwnerID      string     `json:"owner_id,omitempty"`
	Tier         string     `json:"tier,omitempty"`
	Tag          string     `json:"tag"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DomainSuffix returns the trailing label of the entity's domain
// ("acme.de" -> "de"), or "" when no domain is set.
func (e Entity) DomainSuffix() string {
	if e.Domain == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(e.Domain), "www.")
	idx := strings.LastIndex(host, ".")
	if idx < 0 || idx == len(host)-1 {
		return ""
	}
	return host[idx+1:]
}

// Scope selects the entities a run or estimate applies to: a tag (batch
// label) plus optional filters.
type Scope struct {
	Tag          string   `json:"tag"`
	OwnerID      string   `json:"owner_id,omitempty"`
	Tier         string   `json:"tier,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	EntityIDs    []string `json:"entity_ids,omitempty"`
	SampleSize   int      `json:"sample_size,omitempty"`
}

// Key identifies the scope for run-exclusivity purposes. Two scopes with
// the same tag share one run slot regardless of filters.
func (s Scope) Key() string {
	return s.Tag
}

// Matches reports whether the entity satisfies the scope's filters. The
// sample size cap is applied by the caller, not here.
func (s Scope) Matches(e Entity) bool {
	if s.Tag != "" && e.Tag != s.Tag {
		return false
	}
	if s.OwnerID != "" && e.OwnerID != s.OwnerID {
		return false
	}
	if s.Tier != "" && e.Tier != s.Tier {
		return false
	}
	if s.Jurisdiction != "" && !strings.EqualFold(e.Jurisdiction, s.Jurisdiction) {
		return false
	}
	if len(s.EntityIDs) > 0 {
		found := false
		for _, id := range s.EntityIDs {
			if id == e.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
