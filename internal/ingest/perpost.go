package ingest

import (
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/content"
)

// Performance sheet keys, upper-cased for lookup. The sheet is a
// key/value layout: label in the first column, value in the second.
const (
	perfKeyPostURL         = "POST URL"
	perfKeyPostDate        = "POST DATE"
	perfKeyPublishTime     = "POST PUBLISH TIME"
	perfKeyImpressions     = "IMPRESSIONS"
	perfKeyMembersReached  = "MEMBERS REACHED"
	perfKeyReactions       = "REACTIONS"
	perfKeyComments        = "COMMENTS"
	perfKeyReposts         = "REPOSTS"
	perfKeySaves           = "SAVES"
	perfKeySends           = "SENDS ON LINKEDIN"
	perfKeyProfileViews    = "PROFILE VIEWERS FROM THIS POST"
	perfKeyFollowersGained = "FOLLOWERS GAINED FROM THIS POST"
)

// perPostExport is the parsed content of one per-post workbook. The
// identifier comes from the post URL and is in the same namespace the
// publish gateway stores.
type perPostExport struct {
	ExternalID      content.ExternalID
	PostDate        *time.Time
	PostHour        *int
	Impressions     int64
	MembersReached  int64
	Reactions       int64
	Comments        int64
	Reposts         int64
	Saves           int64
	Sends           int64
	ProfileViews    int64
	FollowersGained int64
	Demographics    []demographicRow
	Warnings        []string
}

// parsePerPost reads the performance and demographics sheets of a
// per-post export. A missing or unparseable post URL is the one fatal
// condition: without it the row cannot be attributed to any post.
func parsePerPost(file *excelize.File) (perPostExport, error) {
	values := parsePerformanceSheet(sheetRows(file, sheetPerformance))

	rawURL := values[perfKeyPostURL]
	externalID, ok := content.ParseURN(rawURL)
	if !ok {
		return perPostExport{}, apperr.Validation("per-post export carries no recognisable post identifier")
	}

	export := perPostExport{
		ExternalID:      externalID,
		PostHour:        parsePostHour(values[perfKeyPublishTime]),
		Impressions:     parseIntLoose(values[perfKeyImpressions]),
		MembersReached:  parseIntLoose(values[perfKeyMembersReached]),
		Reactions:       parseIntLoose(values[perfKeyReactions]),
		Comments:        parseIntLoose(values[perfKeyComments]),
		Reposts:         parseIntLoose(values[perfKeyReposts]),
		Saves:           parseIntLoose(values[perfKeySaves]),
		Sends:           parseIntLoose(values[perfKeySends]),
		ProfileViews:    parseIntLoose(values[perfKeyProfileViews]),
		FollowersGained: parseIntLoose(values[perfKeyFollowersGained]),
	}

	if postDate, ok := parseDate(values[perfKeyPostDate]); ok {
		export.PostDate = &postDate
	} else if values[perfKeyPostDate] != "" {
		export.Warnings = append(export.Warnings, "performance sheet: unparseable post date")
	}

	if rows := sheetRows(file, sheetTopDemographics); rows != nil {
		export.Demographics = parseDemographicRows(rows, &export.Warnings)
	}

	return export, nil
}

// parsePerformanceSheet flattens the key/value layout into a lookup of
// upper-cased label -> raw value. Spacer rows are skipped.
func parsePerformanceSheet(rows [][]string) map[string]string {
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		key := strings.ToUpper(cell(row, 0))
		if key == "" {
			continue
		}
		values[key] = cell(row, 1)
	}
	return values
}
