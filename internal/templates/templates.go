// Package templates holds the registry of named Processors a RoutingSpec's
// RpaQueue destination resolves a handler to, and orchestrates the
// should_process/validate/transform/submit pipeline for each.
package templates

import (
	"context"
	"fmt"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
)

// ValidationError reports the fields a Processor's Validate step found
// missing or invalid.
type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: missing fields %v", e.MissingFields)
}

// Processor is the polymorphic capability set every handler implements.
type Processor interface {
	Name() string
	ShouldProcess(current, previous map[string]interface{}) bool
	Validate(current map[string]interface{}) error
	Transform(itemID string, current map[string]interface{}) (queueclient.QueueItem, error)
}

// QueueSubmitter is the QueueClient dependency Process needs. Satisfied by
// *queueclient.Client.
type QueueSubmitter interface {
	Submit(ctx context.Context, tenantTag, folderIDOverride string, item queueclient.QueueItem) (queueclient.Result, error)
}

// Outcome is the result of running one notification through a Processor.
type Outcome struct {
	// Submitted is true only when a QueueItem was actually sent.
	Submitted bool
	Reason    string
	Result    queueclient.Result
}

// Registry holds Processors keyed by handler name.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register adds or replaces the Processor for its own Name().
func (r *Registry) Register(p Processor) {
	r.processors[p.Name()] = p
}

// Lookup returns the Processor registered under name, if any.
func (r *Registry) Lookup(name string) (Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

// Process runs should_process, validate, and transform for the named
// handler, then submits the resulting QueueItem through submitter. An
// unknown handler name is a non-fatal error: the caller should log it and
// move on to sibling destinations rather than aborting the notification.
func (r *Registry) Process(ctx context.Context, handlerName, itemID, tenantTag, folderIDOverride string, current, previous map[string]interface{}, submitter QueueSubmitter) (Outcome, error) {
	processor, ok := r.Lookup(handlerName)
	if !ok {
		return Outcome{}, apperrors.FailedTo("resolve handler", fmt.Errorf("unknown handler %q", handlerName))
	}

	if !processor.ShouldProcess(current, previous) {
		return Outcome{Submitted: false, Reason: "conditions not met"}, nil
	}

	if err := processor.Validate(current); err != nil {
		return Outcome{Submitted: false, Reason: err.Error()}, nil
	}

	item, err := processor.Transform(itemID, current)
	if err != nil {
		return Outcome{}, apperrors.Wrapf(err, "failed to transform item %s for handler %s", itemID, handlerName)
	}

	result, err := submitter.Submit(ctx, tenantTag, folderIDOverride, item)
	if err != nil {
		return Outcome{}, apperrors.Wrapf(err, "failed to submit queue item for item %s", itemID)
	}
	return Outcome{Submitted: result.Class == queueclient.ClassSuccess || result.Class == queueclient.ClassDuplicateReference, Result: result}, nil
}
