package persist

import "time"

// Product is a catalog item. Both shipped categories (fountain pens and
// movies) are represented by the same flat record; fields that don't apply
// to a category are simply left at their zero value. This collapses the
// dict-vs-struct duck typing of the original implementation into one typed
// accessor path (see the StringField/MultiField/NumericField methods).
type Product struct {
	ID          DBID      `bson:"_id" json:"id"`
	Category    string    `bson:"category" json:"category"`
	SourceID    string    `bson:"source_id" json:"source_id"`
	Title       string    `bson:"title" json:"title"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	LastUpdated time.Time `bson:"last_updated" json:"last_updated"`

	// fountain_pens
	Vendor      string              `bson:"vendor" json:"vendor"`
	ProductType string              `bson:"product_type" json:"product_type"`
	Tags        []string            `bson:"tags" json:"tags"`
	Options     map[string][]string `bson:"options" json:"options"`
	PriceMin    *float64            `bson:"price_min,omitempty" json:"price_min,omitempty"`
	PriceMax    *float64            `bson:"price_max,omitempty" json:"price_max,omitempty"`

	// movies
	PrimaryCountry      string   `bson:"primary_country,omitempty" json:"primary_country,omitempty"`
	OriginalLanguage    string   `bson:"original_language,omitempty" json:"original_language,omitempty"`
	Certification       string   `bson:"certification,omitempty" json:"certification,omitempty"`
	DecadeBucket        string   `bson:"decade_bucket,omitempty" json:"decade_bucket,omitempty"`
	RuntimeBucket       string   `bson:"runtime_bucket,omitempty" json:"runtime_bucket,omitempty"`
	Genres              []string `bson:"genres,omitempty" json:"genres,omitempty"`
	Keywords            []string `bson:"keywords,omitempty" json:"keywords,omitempty"`
	ProductionCompanies []string `bson:"production_companies,omitempty" json:"production_companies,omitempty"`
	Directors           []string `bson:"directors,omitempty" json:"directors,omitempty"`
	ReleaseYear         *float64 `bson:"release_year,omitempty" json:"release_year,omitempty"`
	RuntimeMinutes      *float64 `bson:"runtime_minutes,omitempty" json:"runtime_minutes,omitempty"`
	VoteAverage         *float64 `bson:"vote_average,omitempty" json:"vote_average,omitempty"`
	Popularity          *float64 `bson:"popularity,omitempty" json:"popularity,omitempty"`
}

// StringField returns the value of one of the product's categorical fields
// by name. Unknown fields return "".
func (p *Product) StringField(field string) string {
	switch field {
	case "vendor":
		return p.Vendor
	case "product_type":
		return p.ProductType
	case "primary_country":
		return p.PrimaryCountry
	case "original_language":
		return p.OriginalLanguage
	case "certification":
		return p.Certification
	case "decade_bucket":
		return p.DecadeBucket
	case "runtime_bucket":
		return p.RuntimeBucket
	default:
		return ""
	}
}

// MultiField returns the value of one of the product's multi-valued fields
// by name. Unknown fields return nil.
func (p *Product) MultiField(field string) []string {
	switch field {
	case "tags":
		return p.Tags
	case "genres":
		return p.Genres
	case "keywords":
		return p.Keywords
	case "production_companies":
		return p.ProductionCompanies
	case "directors":
		return p.Directors
	default:
		return nil
	}
}

// OptionsField returns the product's option-name to option-values map, used only
// by the fountain_pens "options" multi field.
func (p *Product) OptionsField() map[string][]string {
	return p.Options
}

// NumericField returns the value of one of the product's numeric fields by
// name, and whether it was present.
func (p *Product) NumericField(field string) (float64, bool) {
	var v *float64
	switch field {
	case "price_min":
		v = p.PriceMin
	case "price_max":
		v = p.PriceMax
	case "release_year":
		v = p.ReleaseYear
	case "runtime_minutes":
		v = p.RuntimeMinutes
	case "vote_average":
		v = p.VoteAverage
	case "popularity":
		v = p.Popularity
	default:
		return 0, false
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// PriceMinOrZero treats a missing price as 0, per the onboarding tercile
// partition rule.
func (p *Product) PriceMinOrZero() float64 {
	if p.PriceMin == nil {
		return 0
	}
	return *p.PriceMin
}
