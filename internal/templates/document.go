package templates

import (
	"fmt"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/sanitize"
)

// documentMetadataFields lists the ~30 platform metadata fields the
// document processor flattens into specific_content when present.
var documentMetadataFields = []string{
	"filename", "size", "contentType", "author", "authorEmail", "editor",
	"editorEmail", "created", "modified", "version", "url", "webUrl",
	"downloadUrl", "title", "description", "checkoutUser", "checkinComment",
	"documentType", "documentStatus", "parentFolder", "eTag", "driveId",
	"driveItemId", "mimeType", "extension", "isFolder", "lastModifiedBy",
	"createdBy", "sharingLink", "retentionLabel",
}

// DocumentProcessor always accepts and requires only an item id; it
// flattens the document's metadata fields into a QueueItem.
type DocumentProcessor struct {
	// Now returns the current time; overridable in tests.
	Now func() time.Time
}

// NewDocumentProcessor builds a DocumentProcessor with a real clock.
func NewDocumentProcessor() *DocumentProcessor {
	return &DocumentProcessor{Now: time.Now}
}

func (p *DocumentProcessor) Name() string { return "document" }

func (p *DocumentProcessor) ShouldProcess(current, previous map[string]interface{}) bool {
	return true
}

func (p *DocumentProcessor) Validate(current map[string]interface{}) error {
	return nil
}

func (p *DocumentProcessor) Transform(itemID string, current map[string]interface{}) (queueclient.QueueItem, error) {
	content := make(map[string]interface{}, len(documentMetadataFields))
	for _, field := range documentMetadataFields {
		if v, ok := current[field]; ok {
			content[field] = v
		}
	}
	content["itemId"] = itemID
	content = sanitize.Fields(content)

	now := p.Now
	if now == nil {
		now = time.Now
	}

	filename, _ := current["filename"].(string)
	if filename == "" {
		filename = "unknown"
	}
	reference := fmt.Sprintf("SPDOC_%s_%s_%d", filename, itemID, now().UnixMilli())

	return queueclient.QueueItem{
		Name:            fmt.Sprintf("Document: %s", filename),
		Priority:        queueclient.PriorityNormal,
		Reference:       reference,
		SpecificContent: content,
	}, nil
}
