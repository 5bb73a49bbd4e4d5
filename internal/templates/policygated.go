package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/sanitize"
)

// PolicyGatedProcessor evaluates a Rego policy against {current, previous}
// to decide should_process, letting operators change routing conditions
// without a code deploy. The policy must define a boolean "allow" rule
// under the configured package.
type PolicyGatedProcessor struct {
	name          string
	query         *rego.PreparedEvalQuery
	contentFields []string
	Now           func() time.Time
}

// NewPolicyGatedProcessor compiles rego source (a package exposing an
// "allow" rule) into a reusable processor named name. contentFields lists
// which current fields are copied into specific_content.
func NewPolicyGatedProcessor(ctx context.Context, name, regoPackage, regoSource string, contentFields []string) (*PolicyGatedProcessor, error) {
	query, err := rego.New(
		rego.Query(fmt.Sprintf("data.%s.allow", regoPackage)),
		rego.Module(name+".rego", regoSource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to compile policy for handler %s", name)
	}
	return &PolicyGatedProcessor{name: name, query: &query, contentFields: contentFields, Now: time.Now}, nil
}

func (p *PolicyGatedProcessor) Name() string { return p.name }

func (p *PolicyGatedProcessor) ShouldProcess(current, previous map[string]interface{}) bool {
	results, err := p.query.Eval(context.Background(), rego.EvalInput(map[string]interface{}{
		"current":  current,
		"previous": previous,
	}))
	if err != nil || len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	allow, _ := results[0].Expressions[0].Value.(bool)
	return allow
}

func (p *PolicyGatedProcessor) Validate(current map[string]interface{}) error {
	return nil
}

func (p *PolicyGatedProcessor) Transform(itemID string, current map[string]interface{}) (queueclient.QueueItem, error) {
	content := make(map[string]interface{}, len(p.contentFields)+1)
	for _, field := range p.contentFields {
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

	return queueclient.QueueItem{
		Name:            fmt.Sprintf("Policy(%s): %s", p.name, itemID),
		Priority:        queueclient.PriorityNormal,
		Reference:       fmt.Sprintf("SPPOLICY_%s_%s_%d", p.name, itemID, now().UnixMilli()),
		SpecificContent: content,
	}, nil
}
