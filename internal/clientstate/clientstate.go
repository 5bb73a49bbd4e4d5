// Package clientstate parses the opaque client_state string carried on a
// Subscription into a typed RoutingSpec of Destinations, tolerating both
// the current pipe-delimited grammar and the semicolon-delimited grammar
// emitted by older subscriptions.
package clientstate

import (
	"strconv"
	"strings"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

// MaxLength is the platform's client_state length cap.
const MaxLength = 128

// EnvelopeMode selects how much state a Forward destination includes.
type EnvelopeMode string

const (
	ModeSimple      EnvelopeMode = "simple"
	ModeWithData    EnvelopeMode = "withData"
	ModeWithChanges EnvelopeMode = "withChanges"
)

// DestinationKind discriminates the Destination variant.
type DestinationKind string

const (
	KindForward DestinationKind = "forward"
	KindRpaQueue DestinationKind = "uipath"
	KindNone    DestinationKind = "none"
)

// Destination is one delivery target parsed out of client_state. Only the
// fields relevant to Kind are populated.
type Destination struct {
	Kind DestinationKind

	// Forward fields.
	URL                    string
	Mode                   EnvelopeMode
	IncludeFields          []string
	ExcludeFields          []string
	ChangeDetectionEnabled bool

	// RpaQueue fields.
	HandlerName string
	QueueName   string
	TenantTag   string
	FolderID    string
	Label       string
}

// RequiresItemData reports whether this destination needs current item
// state fetched before it can be dispatched.
func (d Destination) RequiresItemData() bool {
	switch d.Kind {
	case KindRpaQueue:
		return true
	case KindForward:
		return d.Mode != ModeSimple || d.ChangeDetectionEnabled
	default:
		return false
	}
}

// RoutingSpec is the parsed form of client_state: zero or more independent
// Destinations.
type RoutingSpec struct {
	Destinations []Destination
	// Errors holds per-destination parse failures that were isolated
	// rather than failing the whole RoutingSpec (legacy-tolerant parsing
	// never fails the batch; malformed destinations are simply dropped).
	Errors []error
}

// RequiresItemData reports whether any destination in this RoutingSpec
// needs current item state.
func (r RoutingSpec) RequiresItemData() bool {
	for _, d := range r.Destinations {
		if d.RequiresItemData() {
			return true
		}
	}
	return false
}

// ChangeDetectionEnabled reports whether any destination wants a Diff computed.
func (r RoutingSpec) ChangeDetectionEnabled() bool {
	for _, d := range r.Destinations {
		if d.Kind == KindForward && d.ChangeDetectionEnabled {
			return true
		}
	}
	return false
}

// Parse parses raw client_state into a RoutingSpec. Destinations that fail
// to parse are recorded in RoutingSpec.Errors and skipped; Parse itself
// only returns an error when raw exceeds MaxLength.
func Parse(raw string) (RoutingSpec, error) {
	if len(raw) > MaxLength {
		return RoutingSpec{}, apperrors.ValidationError("client_state", "exceeds maximum length of 128 characters")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RoutingSpec{}, nil
	}

	chunks := splitDestinations(raw)
	spec := RoutingSpec{}
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		dest, err := parseDestination(chunk)
		if err != nil {
			spec.Errors = append(spec.Errors, err)
			continue
		}
		spec.Destinations = append(spec.Destinations, dest)
	}
	return spec, nil
}

// splitDestinations separates client_state into one chunk per destination.
// New-format client_state uses "|" between key:value pairs within a
// destination and ";" between destinations. Legacy client_state has no
// "|" at all and describes exactly one destination with ";" separating
// its key:value pairs; in that case the whole string is one chunk.
func splitDestinations(raw string) []string {
	if strings.Contains(raw, "|") {
		return strings.Split(raw, ";")
	}
	return []string{raw}
}

// parseDestination parses one destination chunk. The chunk's pairs are
// separated by "|" in new-format client_state, or by ";" in legacy
// client_state (detected by the absence of "|" in the chunk).
func parseDestination(chunk string) (Destination, error) {
	sep := "|"
	if !strings.Contains(chunk, "|") {
		sep = ";"
	}

	pairs := make(map[string]string)
	for _, part := range strings.Split(chunk, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		if !found {
			return Destination{}, apperrors.ValidationError("client_state", "malformed key:value pair '"+part+"'")
		}
		pairs[legacyKeyAlias(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	kind := DestinationKind(pairs["destination"])
	switch kind {
	case KindForward:
		return parseForward(pairs)
	case KindRpaQueue:
		return parseRpaQueue(pairs)
	case KindNone, "":
		return Destination{Kind: KindNone}, nil
	default:
		return Destination{}, apperrors.ValidationError("client_state", "unknown destination '"+string(kind)+"'")
	}
}

// legacyKeyAlias maps older key spellings onto the canonical key table in
// §4.8 (e.g. "processor" was renamed "destination", "env" renamed "tenant").
func legacyKeyAlias(key string) string {
	switch key {
	case "processor":
		return "destination"
	case "env":
		return "tenant"
	default:
		return key
	}
}

func parseForward(pairs map[string]string) (Destination, error) {
	url := pairs["url"]
	if url == "" {
		return Destination{}, apperrors.ValidationError("client_state", "forward destination requires a url")
	}
	if !strings.HasPrefix(strings.ToLower(url), "https://") {
		return Destination{}, apperrors.ValidationError("client_state", "forward url must be HTTPS")
	}

	mode := EnvelopeMode(pairs["mode"])
	if mode == "" {
		mode = ModeSimple
	}
	switch mode {
	case ModeSimple, ModeWithData, ModeWithChanges:
	default:
		return Destination{}, apperrors.ValidationError("client_state", "unknown mode '"+string(mode)+"'")
	}

	return Destination{
		Kind:                   KindForward,
		URL:                    url,
		Mode:                   mode,
		IncludeFields:          splitCSV(pairs["includeFields"]),
		ExcludeFields:          splitCSV(pairs["excludeFields"]),
		ChangeDetectionEnabled: pairs["changeDetection"] == "enabled",
	}, nil
}

func parseRpaQueue(pairs map[string]string) (Destination, error) {
	handler := pairs["handler"]
	if handler == "" {
		return Destination{}, apperrors.ValidationError("client_state", "uipath destination requires a handler")
	}
	queue := pairs["queue"]
	if queue == "" {
		return Destination{}, apperrors.ValidationError("client_state", "uipath destination requires a queue")
	}
	if folder := pairs["folder"]; folder != "" {
		if _, err := strconv.Atoi(folder); err != nil {
			return Destination{}, apperrors.ValidationError("client_state", "folder must be numeric")
		}
	}

	tenant := pairs["tenant"]
	if tenant == "" {
		tenant = "DEV"
	}

	return Destination{
		Kind:        KindRpaQueue,
		HandlerName: handler,
		QueueName:   queue,
		TenantTag:   tenant,
		FolderID:    pairs["folder"],
		Label:       pairs["label"],
	}, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
