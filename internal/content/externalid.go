package content

import (
	"fmt"
	"regexp"
	"strings"
)

// The provider issues identifiers for the same post in more than one
// namespace depending on how it was created and which export surfaced
// it. Identifiers are only comparable inside a single namespace, so
// records store them in canonical "namespace:value" form and matching
// is plain string equality on that form.

// Namespace is a provider identifier format family.
type Namespace string

const (
	// NamespaceShare is issued by the publish endpoint.
	NamespaceShare Namespace = "share"
	// NamespaceUGCPost is issued by the legacy publish endpoint.
	NamespaceUGCPost Namespace = "ugcPost"
	// NamespaceActivity appears in aggregate analytics exports.
	NamespaceActivity Namespace = "activity"
)

var urnPattern = regexp.MustCompile(`urn:li:(share|ugcPost|activity):(\d+)`)

// ExternalID is a provider-issued post identifier qualified by its
// namespace.
type ExternalID struct {
	Namespace Namespace
	Value     string
}

// Canonical renders the identifier in the stored "namespace:value" form.
func (id ExternalID) Canonical() string {
	return fmt.Sprintf("%s:%s", id.Namespace, id.Value)
}

// ParseURN extracts an ExternalID from a provider URN or from any URL
// embedding one, e.g. "urn:li:share:123" or a feed update URL.
func ParseURN(raw string) (ExternalID, bool) {
	match := urnPattern.FindStringSubmatch(raw)
	if match == nil {
		return ExternalID{}, false
	}
	return ExternalID{Namespace: Namespace(match[1]), Value: match[2]}, true
}

// AggregateExternalID maps a raw identifier cell from an aggregate
// export row to a canonical ExternalID. Aggregate exports surface
// identifiers in the activity namespace; this is the single place that
// assumption lives, so a provider-side change is a one-line fix.
func AggregateExternalID(raw string) (ExternalID, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ExternalID{}, false
	}
	if id, ok := ParseURN(trimmed); ok {
		return id, true
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return ExternalID{}, false
		}
	}
	return ExternalID{Namespace: NamespaceActivity, Value: trimmed}, true
}
