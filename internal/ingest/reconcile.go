package ingest

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/linkport/backend/internal/content"
)

// reconciler applies one parsed export inside a single transaction.
// All matching and merging happens here; the parsers never touch the
// database.
type reconciler struct {
	tx  *gorm.DB
	now time.Time

	created      int
	updated      int
	rejected     int
	demographics int
}

// applyAggregate merges every section of an aggregate export.
func (r *reconciler) applyAggregate(export aggregateExport) error {
	for _, row := range export.Posts {
		if err := r.mergeAggregatePost(row); err != nil {
			return err
		}
	}
	for _, row := range export.DailyMetrics {
		if err := r.mergeDailyMetric(row); err != nil {
			return err
		}
	}
	for _, row := range export.Followers {
		if err := r.mergeFollowerSnapshot(row); err != nil {
			return err
		}
	}
	for _, row := range export.Demographics {
		if err := r.mergeDemographicSnapshot(row); err != nil {
			return err
		}
	}
	return nil
}

// applyPerPost merges one per-post export. Per-post workbooks carry a
// provider identifier, so matching is by canonical external id only.
func (r *reconciler) applyPerPost(export perPostExport) error {
	canonical := export.ExternalID.Canonical()

	post, found, err := r.findByExternalID(canonical)
	if err != nil {
		return err
	}
	if !found {
		post = content.Post{
			ExternalID: &canonical,
			Status:     content.StatusImported,
			PostDate:   dateOf(r.now),
		}
		if export.PostDate != nil {
			post.PostDate = *export.PostDate
		}
		r.created++
	} else {
		r.updated++
	}

	if export.PostDate != nil && found && post.Status == content.StatusImported {
		post.PostDate = *export.PostDate
	}
	if export.PostHour != nil {
		post.PostHour = export.PostHour
	}

	post.Impressions = maxInt64(post.Impressions, export.Impressions)
	post.MembersReached = maxInt64(post.MembersReached, export.MembersReached)
	post.Reactions = maxInt64(post.Reactions, export.Reactions)
	post.Comments = maxInt64(post.Comments, export.Comments)
	post.Reposts = maxInt64(post.Reposts, export.Reposts)
	post.Saves = maxInt64(post.Saves, export.Saves)
	post.Sends = maxInt64(post.Sends, export.Sends)
	post.ProfileViews = maxInt64(post.ProfileViews, export.ProfileViews)
	post.FollowersGained = maxInt64(post.FollowersGained, export.FollowersGained)
	post.RecalculateEngagementRate()

	if post.Status == content.StatusPublished {
		post.Status = content.StatusAnalyticsLinked
	}

	if err := r.tx.Save(&post).Error; err != nil {
		return err
	}
	return r.mergePostDemographics(post.ID, export.Demographics)
}

// mergeAggregatePost runs the layered match for one aggregate row:
// exact canonical external id first, then the composite date+title
// fallback, then a fresh metrics-only record.
func (r *reconciler) mergeAggregatePost(row aggregatePostRow) error {
	if row.PostDate.IsZero() && row.ExternalID == nil {
		r.rejected++
		return nil
	}

	var (
		post  content.Post
		found bool
		err   error
	)
	if row.ExternalID != nil {
		post, found, err = r.findByExternalID(row.ExternalID.Canonical())
		if err != nil {
			return err
		}
	}
	if !found {
		post, found, err = r.findByComposite(row.PostDate, row.Title)
		if err != nil {
			return err
		}
	}

	if !found {
		post = content.Post{
			Status:   content.StatusImported,
			PostDate: row.PostDate,
		}
		if title := truncateTitle(row.Title); title != "" {
			post.Title = &title
		}
		r.created++
	} else {
		r.updated++
	}

	if post.ExternalID == nil && row.ExternalID != nil {
		canonical := row.ExternalID.Canonical()
		post.ExternalID = &canonical
	}
	if post.PostType == nil && row.PostType != "" {
		postType := row.PostType
		post.PostType = &postType
	}

	post.Impressions = maxInt64(post.Impressions, row.Impressions)
	post.MembersReached = maxInt64(post.MembersReached, row.MembersReached)
	post.Reactions = maxInt64(post.Reactions, row.Reactions)
	post.Comments = maxInt64(post.Comments, row.Comments)
	post.Shares = maxInt64(post.Shares, row.Shares)
	post.Clicks = maxInt64(post.Clicks, row.Clicks)
	post.RecalculateEngagementRate()

	if post.Status == content.StatusPublished && row.ExternalID != nil {
		post.Status = content.StatusAnalyticsLinked
	}

	return r.tx.Save(&post).Error
}

// findByExternalID looks a post up by its canonical external id. The
// canonical form is namespace-qualified, so identifiers from different
// namespaces can never collide here.
func (r *reconciler) findByExternalID(canonical string) (content.Post, bool, error) {
	var post content.Post
	err := r.tx.Where("external_id = ?", canonical).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Post{}, false, nil
	}
	if err != nil {
		return content.Post{}, false, err
	}
	return post, true, nil
}

// findByComposite matches on post date plus truncated title. Posts the
// gateway already stamped with a provider identifier are excluded: a
// coarse date+title hit must never rebind a post whose identity is
// known exactly.
func (r *reconciler) findByComposite(date time.Time, title string) (content.Post, bool, error) {
	if date.IsZero() {
		return content.Post{}, false, nil
	}

	query := r.tx.Where("post_date = ?", date).
		Where("status NOT IN ?", []content.Status{content.StatusPublished, content.StatusAnalyticsLinked})
	if truncated := truncateTitle(strings.TrimSpace(title)); truncated != "" {
		query = query.Where("title = ?", truncated)
	} else {
		query = query.Where("title IS NULL")
	}

	var post content.Post
	err := query.First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return content.Post{}, false, nil
	}
	if err != nil {
		return content.Post{}, false, err
	}
	return post, true, nil
}

// mergePostDemographics upserts one (category, value) fact per row,
// replacing the stored percentage on re-import.
func (r *reconciler) mergePostDemographics(postID uint, rows []demographicRow) error {
	for _, row := range rows {
		var existing content.PostDemographic
		err := r.tx.Where("post_id = ? AND category = ? AND value = ?", postID, row.Category, row.Value).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := content.PostDemographic{
				PostID:     postID,
				Category:   row.Category,
				Value:      row.Value,
				Percentage: row.Percentage,
			}
			if err := r.tx.Create(&record).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			existing.Percentage = row.Percentage
			if err := r.tx.Save(&existing).Error; err != nil {
				return err
			}
		}
		r.demographics++
	}
	return nil
}

// mergeDailyMetric upserts the account-level row for one date with
// max-merge semantics, same as the post counters.
func (r *reconciler) mergeDailyMetric(row dailyMetricRow) error {
	var existing content.DailyMetric
	err := r.tx.Where("post_id IS NULL AND metric_date = ?", row.MetricDate).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := content.DailyMetric{
			MetricDate:     row.MetricDate,
			Impressions:    row.Impressions,
			MembersReached: row.MembersReached,
		}
		return r.tx.Create(&record).Error
	case err != nil:
		return err
	}
	existing.Impressions = maxInt64(existing.Impressions, row.Impressions)
	existing.MembersReached = maxInt64(existing.MembersReached, row.MembersReached)
	return r.tx.Save(&existing).Error
}

// mergeFollowerSnapshot replaces the totals for one date. Snapshots
// are point-in-time facts, so the newest file wins outright.
func (r *reconciler) mergeFollowerSnapshot(row followerRow) error {
	var existing content.FollowerSnapshot
	err := r.tx.Where("snapshot_date = ?", row.SnapshotDate).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := content.FollowerSnapshot{
			SnapshotDate:   row.SnapshotDate,
			TotalFollowers: row.TotalFollowers,
			NewFollowers:   row.NewFollowers,
		}
		return r.tx.Create(&record).Error
	case err != nil:
		return err
	}
	existing.TotalFollowers = row.TotalFollowers
	existing.NewFollowers = row.NewFollowers
	return r.tx.Save(&existing).Error
}

// mergeDemographicSnapshot replaces the stored percentage for one
// (category, value) fact on the import date.
func (r *reconciler) mergeDemographicSnapshot(row demographicRow) error {
	snapshotDate := dateOf(r.now)

	var existing content.DemographicSnapshot
	err := r.tx.Where("snapshot_date = ? AND category = ? AND value = ?", snapshotDate, row.Category, row.Value).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := content.DemographicSnapshot{
			SnapshotDate: snapshotDate,
			Category:     row.Category,
			Value:        row.Value,
			Percentage:   row.Percentage,
		}
		err = r.tx.Create(&record).Error
		if err == nil {
			r.demographics++
		}
		return err
	case err != nil:
		return err
	}
	existing.Percentage = row.Percentage
	if err := r.tx.Save(&existing).Error; err != nil {
		return err
	}
	r.demographics++
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
