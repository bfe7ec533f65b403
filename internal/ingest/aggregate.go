package ingest

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/linkport/backend/internal/content"
)

// aggregatePostRow is one per-post row from the engagement or top-posts
// sheet of an aggregate export.
type aggregatePostRow struct {
	ExternalID     *content.ExternalID
	Title          string
	PostDate       time.Time
	PostType       string
	Impressions    int64
	MembersReached int64
	Reactions      int64
	Comments       int64
	Shares         int64
	Clicks         int64
}

type dailyMetricRow struct {
	MetricDate     time.Time
	Impressions    int64
	MembersReached int64
}

type followerRow struct {
	SnapshotDate   time.Time
	TotalFollowers int64
	NewFollowers   int64
}

type demographicRow struct {
	Category   string
	Value      string
	Percentage float64
}

// aggregateExport is the parsed content of one aggregate workbook.
type aggregateExport struct {
	Posts        []aggregatePostRow
	DailyMetrics []dailyMetricRow
	Followers    []followerRow
	Demographics []demographicRow
	Warnings     []string
}

// parseAggregate reads every recognised sheet of an aggregate export.
// Missing sheets and malformed rows produce warnings, never failures.
func parseAggregate(file *excelize.File) aggregateExport {
	var export aggregateExport

	if rows := sheetRows(file, sheetEngagement); rows != nil {
		export.Posts = parseEngagementRows(rows, &export.Warnings)
	} else {
		export.Warnings = append(export.Warnings, fmt.Sprintf("sheet %q not found", sheetEngagement))
	}

	// Top-posts rows share the engagement layout but are filtered to
	// the best performers; only rows not already captured are kept.
	if rows := sheetRows(file, sheetTopPosts); rows != nil {
		seen := make(map[string]bool, len(export.Posts))
		for _, post := range export.Posts {
			seen[compositeKey(post.PostDate, post.Title)] = true
		}
		for _, post := range parseEngagementRows(rows, &export.Warnings) {
			key := compositeKey(post.PostDate, post.Title)
			if seen[key] {
				continue
			}
			seen[key] = true
			export.Posts = append(export.Posts, post)
		}
	}

	if rows := sheetRows(file, sheetDiscovery); rows != nil {
		export.DailyMetrics = parseDiscoveryRows(rows, &export.Warnings)
	} else {
		export.Warnings = append(export.Warnings, fmt.Sprintf("sheet %q not found", sheetDiscovery))
	}

	if rows := sheetRows(file, sheetFollowers); rows != nil {
		export.Followers = parseFollowerRows(rows, &export.Warnings)
	}

	if rows := sheetRows(file, sheetDemographics); rows != nil {
		export.Demographics = parseDemographicRows(rows, &export.Warnings)
	}

	return export
}

func compositeKey(date time.Time, title string) string {
	return date.Format("2006-01-02") + "\x00" + title
}

func parseEngagementRows(rows [][]string, warnings *[]string) []aggregatePostRow {
	if len(rows) < 2 {
		return nil
	}
	index := headerIndex(rows[0])

	dateCol := firstColumn(index, "POST DATE", "DATE", "PUBLISHED", "POST PUBLISHED DATE")
	if dateCol < 0 {
		*warnings = append(*warnings, "engagement sheet: date column not found, skipping sheet")
		return nil
	}
	titleCol := firstColumn(index, "POST TITLE", "TITLE", "POST TEXT")
	idCol := firstColumn(index, "POST ID", "POST URL", "POST LINK")
	typeCol := firstColumn(index, "POST TYPE", "TYPE", "CONTENT TYPE")

	var parsed []aggregatePostRow
	for _, row := range rows[1:] {
		postDate, ok := parseDate(cell(row, dateCol))
		if !ok {
			continue
		}

		entry := aggregatePostRow{
			PostDate:       postDate,
			Impressions:    parseIntLoose(cell(row, firstColumn(index, "IMPRESSIONS"))),
			MembersReached: parseIntLoose(cell(row, firstColumn(index, "MEMBERS REACHED"))),
			Reactions:      parseIntLoose(cell(row, firstColumn(index, "REACTIONS"))),
			Comments:       parseIntLoose(cell(row, firstColumn(index, "COMMENTS"))),
			Shares:         parseIntLoose(cell(row, firstColumn(index, "SHARES"))),
			Clicks:         parseIntLoose(cell(row, firstColumn(index, "CLICKS"))),
		}
		if titleCol >= 0 {
			entry.Title = truncateTitle(cell(row, titleCol))
		}
		if typeCol >= 0 {
			entry.PostType = cell(row, typeCol)
		}
		if idCol >= 0 {
			if id, ok := content.AggregateExternalID(cell(row, idCol)); ok {
				entry.ExternalID = &id
			}
		}
		parsed = append(parsed, entry)
	}
	return parsed
}

func parseDiscoveryRows(rows [][]string, warnings *[]string) []dailyMetricRow {
	if len(rows) < 2 {
		return nil
	}
	index := headerIndex(rows[0])
	dateCol := firstColumn(index, "DATE")
	if dateCol < 0 {
		*warnings = append(*warnings, "discovery sheet: date column not found, skipping sheet")
		return nil
	}

	var parsed []dailyMetricRow
	for _, row := range rows[1:] {
		metricDate, ok := parseDate(cell(row, dateCol))
		if !ok {
			continue
		}
		parsed = append(parsed, dailyMetricRow{
			MetricDate:     metricDate,
			Impressions:    parseIntLoose(cell(row, firstColumn(index, "IMPRESSIONS"))),
			MembersReached: parseIntLoose(cell(row, firstColumn(index, "MEMBERS REACHED"))),
		})
	}
	return parsed
}

func parseFollowerRows(rows [][]string, warnings *[]string) []followerRow {
	if len(rows) < 2 {
		return nil
	}
	index := headerIndex(rows[0])
	dateCol := firstColumn(index, "DATE")
	totalCol := firstColumn(index, "TOTAL FOLLOWERS", "FOLLOWERS", "TOTAL")
	if dateCol < 0 || totalCol < 0 {
		*warnings = append(*warnings, "followers sheet: required columns not found, skipping sheet")
		return nil
	}
	newCol := firstColumn(index, "NEW FOLLOWERS", "NET NEW FOLLOWERS")

	var parsed []followerRow
	for _, row := range rows[1:] {
		snapshotDate, ok := parseDate(cell(row, dateCol))
		if !ok {
			continue
		}
		total := parseIntLoose(cell(row, totalCol))
		if total == 0 {
			continue
		}
		entry := followerRow{SnapshotDate: snapshotDate, TotalFollowers: total}
		if newCol >= 0 {
			entry.NewFollowers = parseIntLoose(cell(row, newCol))
		}
		parsed = append(parsed, entry)
	}
	return parsed
}

func parseDemographicRows(rows [][]string, warnings *[]string) []demographicRow {
	if len(rows) < 2 {
		return nil
	}
	index := headerIndex(rows[0])
	catCol := firstColumn(index, "CATEGORY")
	valCol := firstColumn(index, "VALUE", "SEGMENT")
	pctCol := firstColumn(index, "PERCENTAGE", "%")
	if catCol < 0 || valCol < 0 || pctCol < 0 {
		*warnings = append(*warnings, "demographics sheet: required columns not found, skipping sheet")
		return nil
	}

	var parsed []demographicRow
	for _, row := range rows[1:] {
		category := normalizeCategory(cell(row, catCol))
		value := cell(row, valCol)
		if category == "" || value == "" {
			continue
		}
		percentage, ok := parsePercentage(cell(row, pctCol))
		if !ok {
			continue
		}
		parsed = append(parsed, demographicRow{
			Category:   category,
			Value:      value,
			Percentage: percentage,
		})
	}
	return parsed
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) > content.TitleLength {
		runes = runes[:content.TitleLength]
	}
	return string(runes)
}
