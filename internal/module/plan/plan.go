// Package plan defines the subscription tiers and their monthly limits.
//
// The catalog is pure: it performs no I/O and never fails. Unknown tiers
// resolve to FREE so quota decisions always have a plan to check against.
package plan

import (
	"slices"
	"strconv"
)

// Tier is a subscription tier. Tiers are totally ordered FREE < PRO < ENTERPRISE.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// Unlimited marks a limit with no ceiling.
const Unlimited int64 = -1

var tierOrder = map[Tier]int{
	TierFree:       0,
	TierPro:        1,
	TierEnterprise: 2,
}

// Tiers returns all tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}

// IsValidTier reports whether s names a tier. The check is case-sensitive.
func IsValidTier(s string) bool {
	_, ok := tierOrder[Tier(s)]
	return ok
}

// CompareTiers returns -1, 0 or 1. Invalid tiers rank as FREE.
func CompareTiers(a, b Tier) int {
	oa, ob := tierOrder[a], tierOrder[b]
	switch {
	case oa < ob:
		return -1
	case oa > ob:
		return 1
	default:
		return 0
	}
}

// Feature is a metered monthly action.
type Feature string

const (
	FeatureArticles  Feature = "articles"
	FeatureImages    Feature = "images"
	FeatureVideos    Feature = "videos"
	FeatureResearch  Feature = "research"
	FeatureWordPress Feature = "wordpress"
)

// Features returns the metered features in display order.
func Features() []Feature {
	return []Feature{FeatureArticles, FeatureImages, FeatureVideos, FeatureResearch, FeatureWordPress}
}

var featureAliases = map[string]Feature{
	"articles":          FeatureArticles,
	"articlesGenerated": FeatureArticles,
	"images":            FeatureImages,
	"imagesGenerated":   FeatureImages,
	"videos":            FeatureVideos,
	"videosGenerated":   FeatureVideos,
	"research":          FeatureResearch,
	"researchQueries":   FeatureResearch,
	"wordpress":         FeatureWordPress,
	"articlesPublished": FeatureWordPress,
}

// NormalizeFeature maps a short or counter-style feature name to a Feature.
func NormalizeFeature(name string) (Feature, bool) {
	f, ok := featureAliases[name]
	return f, ok
}

// Price is a recurring list price.
type Price struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval"`
}

// Limits are per-period ceilings. Unlimited (-1) means no ceiling.
type Limits struct {
	Articles             int64 `json:"articles"`
	Images               int64 `json:"images"`
	Videos               int64 `json:"videos"`
	Research             int64 `json:"research"`
	WordPress            int64 `json:"wordpress"`
	MonthlyTokens        int64 `json:"monthlyTokens"`
	MediaDurationSeconds int64 `json:"mediaDurationSeconds"`
	DailyAPICalls        int64 `json:"dailyApiCalls"`
}

// Plan is the immutable definition of a tier.
type Plan struct {
	Tier     Tier     `json:"tier"`
	Name     string   `json:"name"`
	Price    Price    `json:"price"`
	Limits   Limits   `json:"limits"`
	Features []string `json:"features"`
	Quality  string   `json:"quality"`
}

// Limit returns the plan's ceiling for f. Unknown features get 0.
func (p Plan) Limit(f Feature) int64 {
	switch f {
	case FeatureArticles:
		return p.Limits.Articles
	case FeatureImages:
		return p.Limits.Images
	case FeatureVideos:
		return p.Limits.Videos
	case FeatureResearch:
		return p.Limits.Research
	case FeatureWordPress:
		return p.Limits.WordPress
	default:
		return 0
	}
}

// CapabilityAPI is the plan capability that grants platform API access.
const CapabilityAPI = "api"

// HasFeature reports whether name is one of the plan's listed capabilities.
func (p Plan) HasFeature(name string) bool {
	return slices.Contains(p.Features, name)
}

// Metadata flattens the plan into the string map attached to provider checkouts.
func (p Plan) Metadata() map[string]string {
	return map[string]string{
		"tier":             string(p.Tier),
		"tier_name":        p.Name + " Plan",
		"quota_articles":   formatLimit(p.Limits.Articles),
		"quota_images":     formatLimit(p.Limits.Images),
		"quota_videos":     formatLimit(p.Limits.Videos),
		"quota_research":   formatLimit(p.Limits.Research),
		"quota_wordpress":  formatLimit(p.Limits.WordPress),
		"pricing_amount":   strconv.FormatInt(p.Price.AmountCents/100, 10),
		"pricing_currency": p.Price.Currency,
		"pricing_interval": p.Price.Interval,
	}
}

// WithinLimit reports whether usage is still below limit.
func WithinLimit(usage, limit int64) bool {
	if limit == Unlimited {
		return true
	}
	return usage < limit
}

// Remaining returns the units left under limit, or Unlimited.
func Remaining(usage, limit int64) int64 {
	if limit == Unlimited {
		return Unlimited
	}
	if usage >= limit {
		return 0
	}
	return limit - usage
}

func formatLimit(n int64) string {
	if n == Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(n, 10)
}

var definitions = map[Tier]Plan{
	TierFree: {
		Tier:  TierFree,
		Name:  "Free",
		Price: Price{AmountCents: 0, Currency: "USD", Interval: "month"},
		Limits: Limits{
			Articles:             10,
			Images:               25,
			Videos:               0,
			Research:             20,
			WordPress:            0,
			MonthlyTokens:        100_000,
			MediaDurationSeconds: 3600,
			DailyAPICalls:        100,
		},
		Features: []string{"articles", "images", "research"},
		Quality:  "standard",
	},
	TierPro: {
		Tier:  TierPro,
		Name:  "Pro",
		Price: Price{AmountCents: 2900, Currency: "USD", Interval: "month"},
		Limits: Limits{
			Articles:             100,
			Images:               500,
			Videos:               20,
			Research:             Unlimited,
			WordPress:            50,
			MonthlyTokens:        10_000_000,
			MediaDurationSeconds: 72_000,
			DailyAPICalls:        1000,
		},
		Features: []string{"articles", "images", "videos", "research", "wordpress", "api", "advancedSEO", "prioritySupport"},
		Quality:  "high",
	},
	TierEnterprise: {
		Tier:  TierEnterprise,
		Name:  "Enterprise",
		Price: Price{AmountCents: 9900, Currency: "USD", Interval: "month"},
		Limits: Limits{
			Articles:             Unlimited,
			Images:               Unlimited,
			Videos:               100,
			Research:             Unlimited,
			WordPress:            Unlimited,
			MonthlyTokens:        Unlimited,
			MediaDurationSeconds: Unlimited,
			DailyAPICalls:        Unlimited,
		},
		Features: []string{"articles", "images", "videos", "research", "wordpress", "api", "advancedSEO", "prioritySupport", "customIntegrations"},
		Quality:  "highest",
	},
}
