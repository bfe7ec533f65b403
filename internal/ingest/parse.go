// Package ingest parses the provider's two analytics export formats,
// normalizes their metrics, and reconciles rows against existing
// records through layered identity matching.
package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Format names an export file's detected structure.
type Format string

const (
	// FormatAggregate covers many posts with coarse identifiers.
	FormatAggregate Format = "aggregate"
	// FormatPerPost covers one post with rich metrics and demographics.
	FormatPerPost Format = "per_post"
	// FormatUnknown means the workbook carries no recognised sheets.
	FormatUnknown Format = "unknown"
)

// Sheet names in the aggregate export.
const (
	sheetDiscovery    = "DISCOVERY"
	sheetEngagement   = "ENGAGEMENT"
	sheetTopPosts     = "TOP POSTS"
	sheetFollowers    = "FOLLOWERS"
	sheetDemographics = "DEMOGRAPHICS"
)

// Sheet names in the per-post export.
const (
	sheetPerformance     = "PERFORMANCE"
	sheetTopDemographics = "TOP DEMOGRAPHICS"
)

// lessThanOnePercent is the stored value for "<1%" cells: a fixed
// small constant strictly between 0 and 0.01, not parsed text.
const lessThanOnePercent = 0.005

// DetectFormat inspects sheet names to classify a workbook.
func DetectFormat(file *excelize.File) Format {
	names := make(map[string]bool)
	for _, name := range file.GetSheetList() {
		names[strings.ToUpper(strings.TrimSpace(name))] = true
	}
	if names[sheetPerformance] {
		return FormatPerPost
	}
	if names[sheetDiscovery] || names[sheetEngagement] {
		return FormatAggregate
	}
	return FormatUnknown
}

// sheetRows returns the rows of the named sheet, tolerating case and
// whitespace differences in the sheet name. Missing sheets return nil.
func sheetRows(file *excelize.File, wanted string) [][]string {
	for _, name := range file.GetSheetList() {
		if strings.ToUpper(strings.TrimSpace(name)) != wanted {
			continue
		}
		rows, err := file.GetRows(name)
		if err != nil {
			return nil
		}
		return rows
	}
	return nil
}

// cell fetches a column from a row, returning "" past the row's end.
// Excelize trims trailing empty cells per row.
func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

// parseIntLoose converts a counter cell to int64, tolerating thousands
// separators. Malformed cells degrade to zero.
func parseIntLoose(raw string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0
	}
	value, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		// Some exports render counters as floats ("42.0").
		f, ferr := strconv.ParseFloat(cleaned, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return value
}

// parsePercentage normalizes a percentage cell to a fraction in [0,1].
// Accepted shapes: "<1%" (fixed small constant), "15%", "0.22", "15".
func parsePercentage(raw string) (float64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	if strings.HasPrefix(trimmed, "<") {
		return lessThanOnePercent, true
	}
	hadSuffix := strings.HasSuffix(trimmed, "%")
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "%"))
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	if hadSuffix || value > 1 {
		value /= 100
	}
	if value < 0 {
		return 0, false
	}
	return value, true
}

// parsePostHour converts a 12-hour clock cell ("2:30 PM") to the
// 24-hour hour of day. Malformed cells return nil rather than aborting
// the row.
func parsePostHour(raw string) *int {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil
	}
	for _, layout := range []string{"3:04 PM", "3:04PM", "15:04"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			hour := parsed.Hour()
			return &hour
		}
	}
	return nil
}

// dateLayouts are tried in order for date cells across both formats.
var dateLayouts = []string{
	"2006-01-02",
	"Jan 2, 2006",
	"1/2/2006",
	"2/1/2006",
	"2006/1/2",
	"01-02-06", // excelize default short date rendering
}

func parseDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// normalizeCategory maps a demographic category header to its stored
// form: "Company size" -> "company_size".
func normalizeCategory(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(lowered, " ", "_")
}

// headerIndex builds a column lookup from an upper-cased header row.
func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToUpper(strings.TrimSpace(name))
		if key != "" {
			index[key] = i
		}
	}
	return index
}

// firstColumn returns the index of the first present header name among
// the candidates, or -1.
func firstColumn(index map[string]int, candidates ...string) int {
	for _, candidate := range candidates {
		if i, ok := index[candidate]; ok {
			return i
		}
	}
	return -1
}
