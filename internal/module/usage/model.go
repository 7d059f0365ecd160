package usage

import (
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
)

// Period holds a user's counters for one usage window. Counters only grow;
// a new window always starts from a new zeroed row.
type Period struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_periods_user_start,priority:1"`
	SubscriptionID    uuid.UUID `gorm:"type:uuid;not null;index"`
	PeriodStart       time.Time `gorm:"not null;uniqueIndex:idx_usage_periods_user_start,priority:2"`
	PeriodEnd         time.Time `gorm:"not null"`
	ArticlesGenerated int64     `gorm:"not null;default:0"`
	ImagesGenerated   int64     `gorm:"not null;default:0"`
	VideosGenerated   int64     `gorm:"not null;default:0"`
	ResearchQueries   int64     `gorm:"not null;default:0"`
	ArticlesPublished int64     `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Period) TableName() string {
	return "usage_periods"
}

// Used returns the counter for f.
func (p *Period) Used(f plan.Feature) int64 {
	switch f {
	case plan.FeatureArticles:
		return p.ArticlesGenerated
	case plan.FeatureImages:
		return p.ImagesGenerated
	case plan.FeatureVideos:
		return p.VideosGenerated
	case plan.FeatureResearch:
		return p.ResearchQueries
	case plan.FeatureWordPress:
		return p.ArticlesPublished
	default:
		return 0
	}
}

// Add bumps the counter for f in memory.
func (p *Period) Add(f plan.Feature, n int64) {
	switch f {
	case plan.FeatureArticles:
		p.ArticlesGenerated += n
	case plan.FeatureImages:
		p.ImagesGenerated += n
	case plan.FeatureVideos:
		p.VideosGenerated += n
	case plan.FeatureResearch:
		p.ResearchQueries += n
	case plan.FeatureWordPress:
		p.ArticlesPublished += n
	}
}

var featureColumns = map[plan.Feature]string{
	plan.FeatureArticles:  "articles_generated",
	plan.FeatureImages:    "images_generated",
	plan.FeatureVideos:    "videos_generated",
	plan.FeatureResearch:  "research_queries",
	plan.FeatureWordPress: "articles_published",
}

// Column returns the counter column backing f.
func Column(f plan.Feature) (string, bool) {
	col, ok := featureColumns[f]
	return col, ok
}

// Lapsed identifies a user whose latest window has ended.
type Lapsed struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
}

// FeatureUsage is one row of the usage report.
type FeatureUsage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Report is the per-feature usage of the current window.
type Report struct {
	Plan        plan.Tier                     `json:"plan"`
	PeriodStart time.Time                     `json:"periodStart"`
	PeriodEnd   time.Time                     `json:"periodEnd"`
	Features    map[plan.Feature]FeatureUsage `json:"features"`
}
