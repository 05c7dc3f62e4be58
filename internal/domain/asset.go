package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// KindBuilding marks primary structural assets, placed before everything else.
const KindBuilding = "building"

var kindCaser = cases.Lower(language.Und)

// NormalizeKind folds a category tag to its canonical lower-case form.
func NormalizeKind(kind string) string {
	return kindCaser.String(strings.TrimSpace(kind))
}

// PlacementRules restricts where an asset may be placed.
type PlacementRules struct {
	AllowedDistricts []string `json:"allowed_districts,omitempty"`
	PlacementType    string   `json:"placement_type,omitempty"`
}

// AssetRequest is a planned asset template. Re-queued requests are copies
// carrying appended feedback; a dispatched request is never mutated.
type AssetRequest struct {
	ID               string         `json:"asset_id"`
	Kind             string         `json:"type"`
	Subtype          string         `json:"subtype,omitempty"`
	StyleTags        []string       `json:"style_tags"`
	Description      string         `json:"description"`
	PlacementRules   PlacementRules `json:"placement_rules"`
	QuantityRequired int            `json:"quantity_required"`
}

// Clone returns a deep copy of r.
func (r AssetRequest) Clone() AssetRequest {
	c := r
	c.StyleTags = append([]string(nil), r.StyleTags...)
	c.PlacementRules.AllowedDistricts = append([]string(nil), r.PlacementRules.AllowedDistricts...)
	return c
}

// WithFeedback returns a single-instance copy of r whose description carries
// the reviewer feedback appended to the original text.
func (r AssetRequest) WithFeedback(feedback string) AssetRequest {
	c := r.Clone()
	if fb := strings.TrimSpace(feedback); fb != "" {
		c.Description = strings.TrimSpace(c.Description + " [iteration feedback: " + fb + "]")
	}
	c.QuantityRequired = 1
	return c
}

// IsPrimaryStructure reports whether the asset kind is placed first.
func IsPrimaryStructure(kind string) bool {
	return NormalizeKind(kind) == KindBuilding
}

// Dimensions are estimated real-world extents in metres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether all three extents are positive.
func (d Dimensions) Valid() bool {
	return d.Length > 0 && d.Width > 0 && d.Height > 0
}

// AssetStatus enumerates asset outcomes. Only successes enter the library.
type AssetStatus string

const AssetStatusSuccess AssetStatus = "success"

// GeneratedAsset is the accepted output for one asset instance. Values are
// shared read-only once packaged.
type GeneratedAsset struct {
	AssetID       string      `json:"asset_id"`
	Kind          string      `json:"type"`
	StyleTags     []string    `json:"style_tags"`
	Description   string      `json:"description"`
	Image         Handle      `json:"source_image"`
	Bundle        Handle      `json:"bundle"`
	Model         Handle      `json:"model"`
	Media         []Handle    `json:"media,omitempty"`
	Dimensions    Dimensions  `json:"dimensions"`
	DimensionsRaw string      `json:"dimensions_raw"`
	Status        AssetStatus `json:"status"`
}

// LibraryEntry pairs an instance key with its generated asset.
type LibraryEntry struct {
	Key   string         `json:"key"`
	Asset GeneratedAsset `json:"asset"`
}
