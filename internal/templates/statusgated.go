package templates

import (
	"fmt"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/sanitize"
)

// StatusGatedProcessor ("form routing") fires only on a transition into
// TriggerValue on StatusField, and requires four mandatory fields before
// submitting.
type StatusGatedProcessor struct {
	StatusField     string
	TriggerValue    string
	MandatoryFields []string // e.g. {"ShipToEmail", "ShipDate", "Style", "PurchaseOrder"}
	DueDateField    string

	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// NewStatusGatedProcessor builds the default "form routing" processor: a
// transition to "Send Generated Form" gated on email/date/style/PO fields.
func NewStatusGatedProcessor() *StatusGatedProcessor {
	return &StatusGatedProcessor{
		StatusField:     "Status",
		TriggerValue:    "Send Generated Form",
		MandatoryFields: []string{"ShipToEmail", "ShipDate", "Style", "PurchaseOrder"},
		DueDateField:    "ShipDate",
		Now:             time.Now,
	}
}

func (p *StatusGatedProcessor) Name() string { return "status-gated" }

// ShouldProcess returns true only on a transition into TriggerValue: the
// previous snapshot must not already be at that value, so a re-delivery of
// the same notification (or any later notification while status remains
// unchanged) is a no-op.
func (p *StatusGatedProcessor) ShouldProcess(current, previous map[string]interface{}) bool {
	curStatus, _ := current[p.StatusField].(string)
	if curStatus != p.TriggerValue {
		return false
	}
	prevStatus, _ := previous[p.StatusField].(string)
	return prevStatus != p.TriggerValue
}

func (p *StatusGatedProcessor) Validate(current map[string]interface{}) error {
	var missing []string
	for _, field := range p.MandatoryFields {
		v, ok := current[field]
		if !ok || v == nil || v == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}
	return nil
}

func (p *StatusGatedProcessor) Transform(itemID string, current map[string]interface{}) (queueclient.QueueItem, error) {
	priority := queueclient.PriorityNormal
	now := p.Now
	if now == nil {
		now = time.Now
	}
	if dueDate, ok := parseDueDate(current[p.DueDateField]); ok && !dueDate.After(now()) {
		priority = queueclient.PriorityHigh
	}

	content := make(map[string]interface{}, len(p.MandatoryFields)+1)
	for _, field := range p.MandatoryFields {
		content[field] = current[field]
	}
	content["itemId"] = itemID
	content = sanitize.Fields(content)

	return queueclient.QueueItem{
		Name:            fmt.Sprintf("Form: %s", itemID),
		Priority:        priority,
		Reference:       fmt.Sprintf("SPFORM_%s_%d", itemID, now().UnixMilli()),
		SpecificContent: content,
	}, nil
}

func parseDueDate(raw interface{}) (time.Time, bool) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
