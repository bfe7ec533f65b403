// Package content holds the shared persistence model written by the
// publish gateway and the ingestion engine, plus the canonical
// external-identifier helpers both of them match on.
package content

import "time"

// Status enumerates the post lifecycle.
type Status string

const (
	// StatusDraft is a post authored locally and not yet published.
	StatusDraft Status = "draft"
	// StatusPublished is a post delivered to the provider by the gateway.
	StatusPublished Status = "published"
	// StatusAnalyticsLinked is a published post matched by an import.
	StatusAnalyticsLinked Status = "analytics_linked"
	// StatusImported is a metrics-only record created from an export row.
	StatusImported Status = "imported"
)

// TitleLength is the truncation applied to display titles and to the
// composite fallback key used by aggregate reconciliation.
const TitleLength = 100

// Post is one authored or tracked post. Cumulative counters only ever
// grow across imports; Body, once set, is never replaced by an import.
type Post struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement"`
	ExternalID      *string    `gorm:"column:external_id;uniqueIndex;size:190"`
	PostURL         *string    `gorm:"column:post_url;size:500"`
	DraftID         *string    `gorm:"column:draft_id;size:36"`
	Title           *string    `gorm:"column:title;size:100"`
	Body            *string    `gorm:"column:body;type:text"`
	Status          Status     `gorm:"column:status;size:20;not null;default:'imported'"`
	PostDate        time.Time  `gorm:"column:post_date;not null"`
	PostHour        *int       `gorm:"column:post_hour"`
	PostType        *string    `gorm:"column:post_type;size:50"`
	Impressions     int64      `gorm:"column:impressions;not null;default:0"`
	MembersReached  int64      `gorm:"column:members_reached;not null;default:0"`
	Reactions       int64      `gorm:"column:reactions;not null;default:0"`
	Comments        int64      `gorm:"column:comments;not null;default:0"`
	Shares          int64      `gorm:"column:shares;not null;default:0"`
	Clicks          int64      `gorm:"column:clicks;not null;default:0"`
	Saves           int64      `gorm:"column:saves;not null;default:0"`
	Sends           int64      `gorm:"column:sends;not null;default:0"`
	Reposts         int64      `gorm:"column:reposts;not null;default:0"`
	ProfileViews    int64      `gorm:"column:profile_views;not null;default:0"`
	FollowersGained int64      `gorm:"column:followers_gained;not null;default:0"`
	EngagementRate  float64    `gorm:"column:engagement_rate;not null;default:0"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`

	Demographics []PostDemographic `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// RecalculateEngagementRate derives the engagement ratio from the raw
// counters: (reactions + comments + shares) / impressions.
func (p *Post) RecalculateEngagementRate() {
	if p.Impressions <= 0 {
		p.EngagementRate = 0
		return
	}
	p.EngagementRate = float64(p.Reactions+p.Comments+p.Shares) / float64(p.Impressions)
}

// PostDemographic is one (category, value, percentage) audience fact
// scoped to a post. Only the richer per-post export populates these.
type PostDemographic struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PostID     uint      `gorm:"column:post_id;not null;uniqueIndex:uq_post_demo,priority:1"`
	Category   string    `gorm:"column:category;size:100;not null;uniqueIndex:uq_post_demo,priority:2"`
	Value      string    `gorm:"column:value;size:190;not null;uniqueIndex:uq_post_demo,priority:3"`
	Percentage float64   `gorm:"column:percentage;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (PostDemographic) TableName() string {
	return "post_demographics"
}

// DailyMetric is one day of account-level metrics from the aggregate
// export's discovery sheet. PostID stays NULL for account-level rows.
type DailyMetric struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PostID         *uint     `gorm:"column:post_id;uniqueIndex:uq_daily_post_date,priority:1"`
	MetricDate     time.Time `gorm:"column:metric_date;not null;uniqueIndex:uq_daily_post_date,priority:2"`
	Impressions    int64     `gorm:"column:impressions;not null;default:0"`
	MembersReached int64     `gorm:"column:members_reached;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (DailyMetric) TableName() string {
	return "daily_metrics"
}

// FollowerSnapshot is one day of follower totals from the aggregate
// export's followers sheet.
type FollowerSnapshot struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotDate   time.Time `gorm:"column:snapshot_date;not null;uniqueIndex"`
	TotalFollowers int64     `gorm:"column:total_followers;not null"`
	NewFollowers   int64     `gorm:"column:new_followers;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (FollowerSnapshot) TableName() string {
	return "follower_snapshots"
}

// DemographicSnapshot is an account-level audience fact from the
// aggregate export's demographics sheet.
type DemographicSnapshot struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	SnapshotDate time.Time `gorm:"column:snapshot_date;not null;uniqueIndex:uq_demo_snapshot,priority:1"`
	Category     string    `gorm:"column:category;size:100;not null;uniqueIndex:uq_demo_snapshot,priority:2"`
	Value        string    `gorm:"column:value;size:190;not null;uniqueIndex:uq_demo_snapshot,priority:3"`
	Percentage   float64   `gorm:"column:percentage;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName provides the explicit table binding for GORM.
func (DemographicSnapshot) TableName() string {
	return "demographic_snapshots"
}

// ImportBatch records one uploaded export file. The content hash is
// unique so the exact same file can never be imported twice.
type ImportBatch struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Filename        string    `gorm:"column:filename;size:255;not null"`
	FileHash        string    `gorm:"column:file_hash;size:64;not null;uniqueIndex"`
	RecordsImported int       `gorm:"column:records_imported;not null;default:0"`
	Status          string    `gorm:"column:status;size:20;not null;default:'completed'"`
	UploadedAt      time.Time `gorm:"column:uploaded_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ImportBatch) TableName() string {
	return "import_batches"
}

// AllModels lists every table the gateway and ingestion engine share,
// in migration order.
func AllModels() []any {
	return []any{
		&Post{},
		&PostDemographic{},
		&DailyMetric{},
		&FollowerSnapshot{},
		&DemographicSnapshot{},
		&ImportBatch{},
	}
}
