package domain

import (
	"fmt"
	"strings"
)

// Concept is the user's macro description of the city to build.
type Concept struct {
	Theme     string            `json:"theme" yaml:"theme"`
	Scale     string            `json:"scale,omitempty" yaml:"scale,omitempty"`
	TimeOfDay string            `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	Extras    map[string]string `json:"extras,omitempty" yaml:"extras,omitempty"`
}

// Validate checks that the concept carries a theme.
func (c Concept) Validate() error {
	if strings.TrimSpace(c.Theme) == "" {
		return fmt.Errorf("%w: theme is required", ErrInvalidConcept)
	}
	return nil
}

// CityProfile names the city and its thematic intent.
type CityProfile struct {
	Name        string `json:"name"`
	Theme       string `json:"theme"`
	Description string `json:"description"`
}

// LayoutRules are macro rules the layout collaborator is asked to respect.
type LayoutRules struct {
	Verticality Freeform `json:"verticality,omitempty"`
	DensityMap  Freeform `json:"density_map,omitempty"`
}

// District is a functional zone of the planned city.
type District struct {
	ID             string   `json:"district_id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	GridAllocation Freeform `json:"grid_allocation,omitempty"`
}

// Plan is the output of the planning stage. Catalogue holds one template per
// distinct asset.
type Plan struct {
	Profile   CityProfile    `json:"city_profile"`
	Rules     LayoutRules    `json:"layout_rules"`
	Districts []District     `json:"districts"`
	Catalogue []AssetRequest `json:"asset_catalogue"`
}

// Template returns a copy of the catalogue entry with the given id.
func (p Plan) Template(id string) (AssetRequest, bool) {
	for _, t := range p.Catalogue {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return AssetRequest{}, false
}

// WorkQueue returns copies of every catalogue template.
func (p Plan) WorkQueue() []AssetRequest {
	queue := make([]AssetRequest, 0, len(p.Catalogue))
	for _, t := range p.Catalogue {
		queue = append(queue, t.Clone())
	}
	return queue
}
