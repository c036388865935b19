package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
)

// ValidationResult is the outcome of a dry check of a flow
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *ValidationResult) addError(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
	v.Valid = false
}

func (v *ValidationResult) addWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}

// ValidateFlow checks that flowID could be orchestrated: both adapters are
// named, exist, are active and match their role, and the transformation
// pipeline builds. It never touches execution state. Store failures other
// than not-found are returned as errors.
func (e *Engine) ValidateFlow(ctx context.Context, flowID string) (*ValidationResult, error) {
	res := &ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	store := e.svc.Store()
	flow, err := store.FindFlow(ctx, flowID)
	if err != nil {
		if flowstore.IsNotFound(err) {
			res.addError("Flow not found: %s", flowID)
			return res, nil
		}
		return nil, errors.Wrap(err, "orchestration", "ValidateFlow", "find flow")
	}

	if strings.TrimSpace(flow.SourceAdapterID) == "" {
		res.addError("Source adapter is required for orchestration flow")
	} else if err := e.checkAdapter(ctx, res, flow.SourceAdapterID, "Source", true); err != nil {
		return nil, err
	}
	if strings.TrimSpace(flow.TargetAdapterID) == "" {
		res.addError("Target adapter is required for orchestration flow")
	}
	for _, id := range flow.TargetIDs() {
		if err := e.checkAdapter(ctx, res, id, "Target", false); err != nil {
			return nil, err
		}
	}

	if flow.EffectiveMappingMode() == flowstore.WithMapping {
		if _, err := e.svc.BuildPipeline(ctx, flow); err != nil {
			res.addError("Transformation pipeline is invalid: %v", err)
		}
	}
	if !flow.Status.Runnable(false) {
		res.addWarning(fmt.Sprintf("Flow status %s does not allow execution", flow.Status))
	}

	res.addWarning("Orchestration flow validation completed")
	return res, nil
}

func (e *Engine) checkAdapter(ctx context.Context, res *ValidationResult, id, role string, source bool) error {
	def, err := e.svc.Store().FindAdapterConfig(ctx, id)
	if err != nil {
		if flowstore.IsNotFound(err) {
			res.addError("%s adapter %s does not exist", role, id)
			return nil
		}
		return errors.Wrap(err, "orchestration", "ValidateFlow", "find adapter")
	}
	if !def.Active {
		res.addError("%s adapter %s is not active", role, def.Name)
	}
	if source && def.Mode != adapter.ModeSender {
		res.addError("%s adapter %s must be a SENDER, not %s", role, def.Name, def.Mode)
	}
	if !source && def.Mode != adapter.ModeReceiver {
		res.addError("%s adapter %s must be a RECEIVER, not %s", role, def.Name, def.Mode)
	}
	return nil
}
