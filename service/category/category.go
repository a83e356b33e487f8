// Package category holds the declarative per-category field registry that
// the rest of the preference-duel core treats as the single source of
// truth for which item attributes become feature tokens, which become
// numeric dimensions, and how a raw feature key is humanized back into
// display copy (SPEC_FULL §4.1, grounded on
// _examples/original_source/backend/app/category_profiles.py).
package category

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultCategory is used whenever a caller supplies no category.
const DefaultCategory = "fountain_pens"

// Item is the minimal accessor surface category needs from a catalog
// record. persist.Product implements this directly; it replaces the
// source's dict-vs-object duck typing with one typed path (SPEC_FULL §9).
type Item interface {
	StringField(field string) string
	MultiField(field string) []string
	OptionsField() map[string][]string
	NumericField(field string) (float64, bool)
}

// Profile is the immutable declaration of one category's shape and copy.
type Profile struct {
	ID                     string
	DisplayName            string
	ItemSingular           string
	ItemPlural             string
	VendorLabel            string
	ModeCaption            string
	OnboardingAction       string
	TopRecommendationsLabel string
	HiddenGemsLabel        string
	HiddenGemsSubtitle     string
	RedundantTokens        []string
	CategoricalFields      []string
	MultiFields            []string
	NumericFields          []string
}

var profiles = map[string]Profile{
	"fountain_pens": {
		ID:                      "fountain_pens",
		DisplayName:             "Fountain Pens",
		ItemSingular:            "pen",
		ItemPlural:              "pens",
		VendorLabel:             "Brand",
		ModeCaption:             "Visual mode prioritizes product imagery. Feature mode emphasizes vendor, price, and tag signals.",
		OnboardingAction:        "Choose 10 pens from a pool of 50 to build your taste profile.",
		TopRecommendationsLabel: "AI's Top 5 Picks for You",
		HiddenGemsLabel:         "Hidden Gems - Patterns You Might Not Have Noticed",
		HiddenGemsSubtitle:      "Pens You Didn't Know You'd Love",
		RedundantTokens: []string{
			"fountain pens", "fountain pen", "pens", "pen", "ink", "inks",
			"writing", "stationery", "hideoos", "bis-hidden", "products",
		},
		CategoricalFields: []string{"vendor", "product_type"},
		MultiFields:       []string{"tags", "options"},
		NumericFields:     []string{"price_min", "price_max"},
	},
	"movies": {
		ID:                      "movies",
		DisplayName:             "Movies",
		ItemSingular:            "movie",
		ItemPlural:              "movies",
		VendorLabel:             "Studio",
		ModeCaption:             "Visual mode prioritizes posters. Feature mode emphasizes genre, studio, runtime, and rating signals.",
		OnboardingAction:        "Choose 10 movies from a pool of 50 to build your taste profile.",
		TopRecommendationsLabel: "AI's Top 5 Movies for You",
		HiddenGemsLabel:         "Hidden Gems - Patterns You Might Not Have Noticed",
		HiddenGemsSubtitle:      "Movies You Didn't Know You'd Love",
		RedundantTokens:         []string{"movie", "movies", "film", "films"},
		CategoricalFields: []string{
			"vendor", "primary_country", "original_language", "certification",
			"decade_bucket", "runtime_bucket",
		},
		MultiFields:   []string{"genres", "keywords", "production_companies", "directors"},
		NumericFields: []string{"release_year", "runtime_minutes", "vote_average", "popularity"},
	},
}

// Supported returns the registered category ids in stable (sorted) order.
func Supported() []string {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnsupportedCategoryError is returned by Normalize for a category id the
// registry doesn't recognize.
type UnsupportedCategoryError struct {
	Category string
}

func (e UnsupportedCategoryError) Error() string {
	return fmt.Sprintf("unsupported category %q", e.Category)
}

// Normalize maps an optional, possibly mixed-case category string to a
// registered category id, defaulting empty input to DefaultCategory.
func Normalize(value string) (string, error) {
	if value == "" {
		return DefaultCategory, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := profiles[normalized]; ok {
		return normalized, nil
	}
	return "", UnsupportedCategoryError{Category: value}
}

// Get resolves a (possibly empty) category string to its Profile.
func Get(value string) (Profile, error) {
	id, err := Normalize(value)
	if err != nil {
		return Profile{}, err
	}
	return profiles[id], nil
}

// Copy is the subset of a Profile's display strings meant to be sent to a
// client.
type Copy struct {
	ID                      string `json:"id"`
	DisplayName             string `json:"display_name"`
	ItemSingular            string `json:"item_singular"`
	ItemPlural              string `json:"item_plural"`
	VendorLabel             string `json:"vendor_label"`
	ModeCaption             string `json:"mode_caption"`
	OnboardingAction        string `json:"onboarding_action"`
	TopRecommendationsLabel string `json:"top_recommendations_label"`
	HiddenGemsLabel         string `json:"hidden_gems_label"`
	HiddenGemsSubtitle      string `json:"hidden_gems_subtitle"`
}

// CategoryCopy resolves the display copy for a (possibly empty) category.
func CategoryCopy(value string) (Copy, error) {
	profile, err := Get(value)
	if err != nil {
		return Copy{}, err
	}
	return Copy{
		ID:                      profile.ID,
		DisplayName:             profile.DisplayName,
		ItemSingular:            profile.ItemSingular,
		ItemPlural:              profile.ItemPlural,
		VendorLabel:             profile.VendorLabel,
		ModeCaption:             profile.ModeCaption,
		OnboardingAction:        profile.OnboardingAction,
		TopRecommendationsLabel: profile.TopRecommendationsLabel,
		HiddenGemsLabel:         profile.HiddenGemsLabel,
		HiddenGemsSubtitle:      profile.HiddenGemsSubtitle,
	}, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func toSlug(value string) string {
	if value == "" {
		return ""
	}
	text := strings.ToLower(strings.TrimSpace(value))
	text = strings.ReplaceAll(text, "/", " ")
	text = strings.ReplaceAll(text, "&", " and ")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return text
}

// ExtractTokensAndNumerics builds the categorical/multi-valued feature
// tokens and the numeric samples for one item under the given profile
// (SPEC_FULL §4.1/§4.2).
func ExtractTokensAndNumerics(item Item, profile Profile) ([]string, map[string]float64) {
	var tokens []string
	numerics := make(map[string]float64)

	for _, field := range profile.CategoricalFields {
		slug := toSlug(item.StringField(field))
		if slug != "" {
			tokens = append(tokens, fmt.Sprintf("cat::%s::cat::%s::%s", profile.ID, field, slug))
		}
	}

	for _, field := range profile.MultiFields {
		if field == "options" {
			opts := item.OptionsField()
			optNames := make([]string, 0, len(opts))
			for name := range opts {
				optNames = append(optNames, name)
			}
			sort.Strings(optNames)
			for _, optName := range optNames {
				optSlug := toSlug(optName)
				if optSlug == "" {
					continue
				}
				for _, optValue := range opts[optName] {
					valueSlug := toSlug(optValue)
					if valueSlug != "" {
						tokens = append(tokens, fmt.Sprintf("cat::%s::multi::option::%s|%s", profile.ID, optSlug, valueSlug))
					}
				}
			}
			continue
		}

		for _, value := range item.MultiField(field) {
			slug := toSlug(value)
			if slug != "" {
				tokens = append(tokens, fmt.Sprintf("cat::%s::multi::%s::%s", profile.ID, field, slug))
			}
		}
	}

	for _, field := range profile.NumericFields {
		if v, ok := item.NumericField(field); ok {
			numerics[fmt.Sprintf("cat::%s::num::%s_z", profile.ID, field)] = v
		}
	}

	return tokens, numerics
}

// IsNumericFeatureKey reports whether a raw feature key belongs to the
// numeric bucket (as opposed to a categorical/multi token).
func IsNumericFeatureKey(raw string) bool {
	return strings.Contains(raw, "::num::")
}

var fieldLabels = map[string]string{
	"product_type":         "Type",
	"primary_country":      "Country",
	"original_language":    "Language",
	"certification":        "Rating",
	"decade_bucket":        "Decade",
	"runtime_bucket":       "Runtime",
	"genres":               "Genre",
	"keywords":             "Keyword",
	"production_companies": "Studio",
	"directors":            "Director",
}

func fieldLabel(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return titleCase(strings.ReplaceAll(field, "_", " "))
}

func isRedundant(profile Profile, text string) bool {
	lower := strings.ToLower(text)
	for _, t := range profile.RedundantTokens {
		if strings.ToLower(t) == lower {
			return true
		}
	}
	return false
}

// HumanizeFeature turns a raw feature key into display copy, or returns
// ok=false when the key is numeric or its value is a redundant token that
// carries no useful signal (SPEC_FULL §4.1).
func HumanizeFeature(raw string) (string, bool) {
	if IsNumericFeatureKey(raw) {
		return "", false
	}
	parts := strings.Split(raw, "::")
	if len(parts) < 5 || parts[0] != "cat" {
		return titleCase(raw), true
	}

	category := parts[1]
	profile, err := Get(category)
	if err != nil {
		return titleCase(raw), true
	}
	kind := parts[2]
	field := parts[3]
	value := strings.Join(parts[4:], "::")

	valueText := titleCase(strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(value, "|", " "), "_", " ")))
	if isRedundant(profile, valueText) {
		return "", false
	}

	switch kind {
	case "cat":
		if field == "vendor" {
			return valueText, true
		}
		label := fieldLabel(field)
		if label == "Type" {
			return valueText, true
		}
		return fmt.Sprintf("%s %s", valueText, label), true
	case "multi":
		if field == "option" {
			if idx := strings.Index(value, "|"); idx >= 0 {
				optName, optValue := value[:idx], value[idx+1:]
				return fmt.Sprintf("%s %s",
					titleCase(strings.ReplaceAll(optValue, "_", " ")),
					titleCase(strings.ReplaceAll(optName, "_", " "))), true
			}
			return valueText, true
		}
		return valueText, true
	case "num":
		return "", false
	default:
		return valueText, true
	}
}

// NumericPreferenceLabel describes a numeric feature's preference direction
// by the sign of its weight.
func NumericPreferenceLabel(raw string, weight float64) string {
	parts := strings.Split(raw, "::")
	if len(parts) < 4 {
		return "Numeric Preference"
	}
	field := strings.TrimSuffix(parts[3], "_z")
	positive := weight >= 0

	switch {
	case strings.HasPrefix(field, "price_"):
		if positive {
			return "Higher Price Range"
		}
		return "Lower Price Range"
	case field == "runtime_minutes":
		if positive {
			return "Longer Runtime"
		}
		return "Shorter Runtime"
	case field == "release_year":
		if positive {
			return "Newer Releases"
		}
		return "Older Releases"
	case field == "vote_average":
		if positive {
			return "Higher Rated Titles"
		}
		return "Lower Rated Titles"
	case field == "popularity":
		if positive {
			return "Popular Titles"
		}
		return "Niche Titles"
	default:
		return fmt.Sprintf("%s Preference", titleCase(strings.ReplaceAll(field, "_", " ")))
	}
}
