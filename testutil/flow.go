package testutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
)

// Sample payloads
const (
	OrderXML   = `<Order><CustomerName>Acme</CustomerName></Order>`
	InvoiceXML = `<Invoice><Buyer>Acme</Buyer></Invoice>`
	OrderJSON  = `{"order":{"id":"A-1","customer":"Acme","total":42.5,"lines":[{"sku":"X1","qty":2},{"sku":"Y2","qty":1}]}}`
)

// FlowBuilder assembles a flow together with its adapter definitions,
// transformations and field mappings. Defaults: status DEPLOYED, mode
// WITH_MAPPING, an active FILE sender "<id>-src" and an active FILE receiver
// "<id>-tgt".
type FlowBuilder struct {
	flow            *flowstore.FlowDefinition
	adapters        map[string]*flowstore.AdapterDefinition
	adapterOrder    []string
	transformations []*flowstore.Transformation
	mappings        []*flowstore.FieldMapping
	mapStep         *flowstore.Transformation
}

// NewFlowBuilder starts a flow named id
func NewFlowBuilder(id string) *FlowBuilder {
	b := &FlowBuilder{
		flow: &flowstore.FlowDefinition{
			ID:              id,
			Name:            id,
			SourceAdapterID: id + "-src",
			TargetAdapterID: id + "-tgt",
			Status:          flowstore.StatusDeployed,
			MappingMode:     flowstore.WithMapping,
		},
		adapters: make(map[string]*flowstore.AdapterDefinition),
	}
	b.addAdapter(id+"-src", adapter.TypeFILE, adapter.ModeSender)
	b.addAdapter(id+"-tgt", adapter.TypeFILE, adapter.ModeReceiver)
	return b
}

func (b *FlowBuilder) addAdapter(id string, t adapter.Type, m adapter.Mode) {
	if _, ok := b.adapters[id]; !ok {
		b.adapterOrder = append(b.adapterOrder, id)
	}
	b.adapters[id] = &flowstore.AdapterDefinition{
		ID: id, Name: id, Type: t, Mode: m, Active: true,
		Config: json.RawMessage(fmt.Sprintf(`{"name":%q}`, id)),
	}
}

// WithMode sets the mapping mode
func (b *FlowBuilder) WithMode(m flowstore.MappingMode) *FlowBuilder {
	b.flow.MappingMode = m
	return b
}

// WithStatus sets the flow status
func (b *FlowBuilder) WithStatus(s flowstore.FlowStatus) *FlowBuilder {
	b.flow.Status = s
	return b
}

// SkipXMLConversion keeps JSON payloads as JSON
func (b *FlowBuilder) SkipXMLConversion() *FlowBuilder {
	b.flow.SkipXMLConversion = true
	return b
}

// WithSchedule sets the cron schedule
func (b *FlowBuilder) WithSchedule(spec string) *FlowBuilder {
	b.flow.Schedule = spec
	return b
}

// WithSourceType changes the source adapter's protocol
func (b *FlowBuilder) WithSourceType(t adapter.Type) *FlowBuilder {
	b.adapters[b.flow.SourceAdapterID].Type = t
	return b
}

// WithTargetType changes the primary target adapter's protocol
func (b *FlowBuilder) WithTargetType(t adapter.Type) *FlowBuilder {
	b.adapters[b.flow.TargetAdapterID].Type = t
	return b
}

// WithAdapterConfig replaces an adapter definition's raw config
func (b *FlowBuilder) WithAdapterConfig(id, cfg string) *FlowBuilder {
	if a, ok := b.adapters[id]; ok {
		a.Config = json.RawMessage(cfg)
	}
	return b
}

// Deactivate marks an adapter definition inactive
func (b *FlowBuilder) Deactivate(adapterID string) *FlowBuilder {
	if a, ok := b.adapters[adapterID]; ok {
		a.Active = false
	}
	return b
}

// WithoutAdapter removes an adapter definition so the flow references a
// missing adapter.
func (b *FlowBuilder) WithoutAdapter(adapterID string) *FlowBuilder {
	delete(b.adapters, adapterID)
	return b
}

// AddTarget adds an extra receiver of type t
func (b *FlowBuilder) AddTarget(id string, t adapter.Type) *FlowBuilder {
	b.addAdapter(id, t, adapter.ModeReceiver)
	b.flow.AdditionalTargetIDs = append(b.flow.AdditionalTargetIDs, id)
	return b
}

// MapField adds a direct mapping from source to target. All MapField calls
// share one FIELD_MAPPING step at execution order 1.
func (b *FlowBuilder) MapField(source, target string) *FlowBuilder {
	return b.AddMapping(&flowstore.FieldMapping{SourceFields: []string{source}, TargetField: target})
}

// AddMapping adds m to the shared FIELD_MAPPING step, filling ID, step,
// order and Active.
func (b *FlowBuilder) AddMapping(m *flowstore.FieldMapping) *FlowBuilder {
	if b.mapStep == nil {
		b.mapStep = &flowstore.Transformation{
			ID: b.flow.ID + "-map", FlowID: b.flow.ID, Name: "field mapping",
			Type: flowstore.FieldMappingStep, ExecutionOrder: 1, Active: true,
		}
		b.transformations = append(b.transformations, b.mapStep)
	}
	m = m.Clone()
	n := len(b.mappings) + 1
	if m.ID == "" {
		m.ID = fmt.Sprintf("%s-m%d", b.flow.ID, n)
	}
	m.TransformationID = b.mapStep.ID
	if m.MappingOrder == 0 {
		m.MappingOrder = n
	}
	m.Active = true
	b.mappings = append(b.mappings, m)
	return b
}

// AddStep adds a transformation of type typ with a JSON configuration
func (b *FlowBuilder) AddStep(typ flowstore.TransformationType, order int, cfg string) *FlowBuilder {
	t := &flowstore.Transformation{
		ID:             fmt.Sprintf("%s-t%d", b.flow.ID, len(b.transformations)+1),
		FlowID:         b.flow.ID,
		Name:           string(typ),
		Type:           typ,
		ExecutionOrder: order,
		Active:         true,
	}
	if cfg != "" {
		t.Configuration = json.RawMessage(cfg)
	}
	b.transformations = append(b.transformations, t)
	return b
}

// Flow returns a copy of the flow definition
func (b *FlowBuilder) Flow() *flowstore.FlowDefinition { return b.flow.Clone() }

// Save writes everything to store
func (b *FlowBuilder) Save(ctx context.Context, store flowstore.Store) error {
	for _, id := range b.adapterOrder {
		a, ok := b.adapters[id]
		if !ok {
			continue
		}
		if err := store.SaveAdapterConfig(ctx, a); err != nil {
			return err
		}
	}
	if err := store.SaveFlow(ctx, b.flow.Clone()); err != nil {
		return err
	}
	for _, t := range b.transformations {
		if err := store.SaveTransformation(ctx, t); err != nil {
			return err
		}
	}
	for _, m := range b.mappings {
		if err := store.SaveMapping(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
