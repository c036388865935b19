package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// Bucket names used by KVStore
const (
	BucketFlows           = "flowbridge_flows"
	BucketTransformations = "flowbridge_transformations"
	BucketMappings        = "flowbridge_mappings"
	BucketFunctions       = "flowbridge_functions"
	BucketAdapters        = "flowbridge_adapters"
)

// Child records are keyed "<parent>.<id>" so a parent's children are found by
// key prefix. Ids therefore cannot contain dots.
var validKey = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

// KVOptions tunes the buckets created by NewKVStore.
type KVOptions struct {
	Timeout  time.Duration
	History  int
	Replicas int
}

// KVStore persists definitions in NATS JetStream KV buckets
type KVStore struct {
	flows           *natsclient.KVStore
	transformations *natsclient.KVStore
	mappings        *natsclient.KVStore
	functions       *natsclient.KVStore
	adapters        *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates (or opens) the definition buckets
func NewKVStore(ctx context.Context, client *natsclient.Client, opts KVOptions) (*KVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "flowstore", "NewKVStore", "nats client validation")
	}
	if opts.History <= 0 {
		opts.History = 5
	}

	open := func(bucket, description string) (*natsclient.KVStore, error) {
		kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: description,
			History:     uint8(min(opts.History, 64)),
			Replicas:    opts.Replicas,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "flowstore", "NewKVStore", "create bucket "+bucket)
		}
		return natsclient.NewKVStore(kv, opts.Timeout), nil
	}

	s := &KVStore{}
	var err error
	if s.flows, err = open(BucketFlows, "Flow definitions and execution counters"); err != nil {
		return nil, err
	}
	if s.transformations, err = open(BucketTransformations, "Pipeline steps keyed by flow"); err != nil {
		return nil, err
	}
	if s.mappings, err = open(BucketMappings, "Field mappings keyed by transformation"); err != nil {
		return nil, err
	}
	if s.functions, err = open(BucketFunctions, "Reusable transformation functions"); err != nil {
		return nil, err
	}
	if s.adapters, err = open(BucketAdapters, "Adapter definitions"); err != nil {
		return nil, err
	}
	return s, nil
}

func checkKey(method string, ids ...string) error {
	for _, id := range ids {
		if !validKey.MatchString(id) {
			return errors.WrapInvalid(fmt.Errorf("id %q is not a valid key", id), "KVStore", method, "key validation")
		}
	}
	return nil
}

func getJSON[T any](ctx context.Context, kv *natsclient.KVStore, kind, key, id string) (*T, uint64, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, 0, notFound(kind, id)
		}
		return nil, 0, errors.WrapTransient(err, "KVStore", "get", "get "+kind)
	}
	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return nil, 0, errors.WrapFatal(err, "KVStore", "get", "unmarshal "+kind)
	}
	return &v, entry.Revision, nil
}

func putJSON(ctx context.Context, kv *natsclient.KVStore, kind, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapFatal(err, "KVStore", "put", "marshal "+kind)
	}
	if _, err := kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "KVStore", "put", "put "+kind)
	}
	return nil
}

func listJSON[T any](ctx context.Context, kv *natsclient.KVStore, kind, prefix string) ([]*T, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "list", "list "+kind+" keys")
	}
	sort.Strings(keys)
	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		v, _, err := getJSON[T](ctx, kv, kind, key, key)
		if IsNotFound(err) {
			continue // deleted between Keys and Get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// findChildKey resolves "<parent>.<id>" for a child id.
func findChildKey(ctx context.Context, kv *natsclient.KVStore, kind, id string) (string, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		return "", errors.WrapTransient(err, "KVStore", "find", "list "+kind+" keys")
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "."+id) {
			return key, nil
		}
	}
	return "", notFound(kind, id)
}

// FindFlow fetches a flow
func (s *KVStore) FindFlow(ctx context.Context, id string) (*FlowDefinition, error) {
	if err := checkKey("FindFlow", id); err != nil {
		return nil, err
	}
	flow, _, err := getJSON[FlowDefinition](ctx, s.flows, "flow", id, id)
	return flow, err
}

// ListFlows fetches all flows ordered by id
func (s *KVStore) ListFlows(ctx context.Context) ([]*FlowDefinition, error) {
	return listJSON[FlowDefinition](ctx, s.flows, "flow", "")
}

// SaveFlow creates or CAS-updates a flow
func (s *KVStore) SaveFlow(ctx context.Context, flow *FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "KVStore", "SaveFlow", "flow validation")
	}
	if err := flow.Validate(); err != nil {
		return err
	}
	if err := checkKey("SaveFlow", flow.ID); err != nil {
		return err
	}

	now := time.Now()
	if flow.Version == 0 {
		next := flow.Clone()
		next.Version = 1
		next.CreatedAt = now
		next.UpdatedAt = now
		data, err := json.Marshal(next)
		if err != nil {
			return errors.WrapFatal(err, "KVStore", "SaveFlow", "marshal flow")
		}
		if _, err := s.flows.Create(ctx, flow.ID, data); err != nil {
			if errors.Is(err, natsclient.ErrKVKeyExists) {
				return fmt.Errorf("flow %q: %w", flow.ID, errors.ErrAlreadyExists)
			}
			return errors.WrapTransient(err, "KVStore", "SaveFlow", "create flow")
		}
		*flow = *next
		return nil
	}

	current, revision, err := getJSON[FlowDefinition](ctx, s.flows, "flow", flow.ID, flow.ID)
	if err != nil {
		return err
	}
	if current.Version != flow.Version {
		return errors.WrapInvalid(
			fmt.Errorf("version mismatch: expected %d, got %d", current.Version, flow.Version),
			"KVStore", "SaveFlow", "conflict check")
	}

	next := flow.Clone()
	next.Version++
	next.UpdatedAt = now
	data, err := json.Marshal(next)
	if err != nil {
		return errors.WrapFatal(err, "KVStore", "SaveFlow", "marshal flow")
	}
	if _, err := s.flows.Update(ctx, flow.ID, data, revision); err != nil {
		if errors.Is(err, natsclient.ErrKVRevisionMismatch) {
			return errors.WrapInvalid(err, "KVStore", "SaveFlow", "conflict check")
		}
		return errors.WrapTransient(err, "KVStore", "SaveFlow", "update flow")
	}
	*flow = *next
	return nil
}

// DeleteFlow removes the flow, its transformations and their mappings
func (s *KVStore) DeleteFlow(ctx context.Context, id string) error {
	if _, err := s.FindFlow(ctx, id); err != nil {
		return err
	}
	if err := s.flows.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return notFound("flow", id)
		}
		return errors.WrapTransient(err, "KVStore", "DeleteFlow", "delete flow")
	}

	steps, err := s.FindTransformations(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range steps {
		if err := s.DeleteTransformation(ctx, t.ID); err != nil && !IsNotFound(err) {
			return err
		}
	}
	return nil
}

// RecordExecution updates counters with a CAS loop
func (s *KVStore) RecordExecution(ctx context.Context, id string, success bool, at time.Time) (*FlowDefinition, error) {
	if err := checkKey("RecordExecution", id); err != nil {
		return nil, err
	}

	cfg := retry.Config{
		MaxAttempts:  8,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		AddJitter:    true,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, natsclient.ErrKVRevisionMismatch)
		},
	}
	return retry.DoWithResult(ctx, cfg, func() (*FlowDefinition, error) {
		flow, revision, err := getJSON[FlowDefinition](ctx, s.flows, "flow", id, id)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		applyExecution(flow, success, at)
		flow.Version++
		flow.UpdatedAt = time.Now()
		data, err := json.Marshal(flow)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		if _, err := s.flows.Update(ctx, id, data, revision); err != nil {
			return nil, err
		}
		return flow, nil
	})
}

// FindTransformations lists the flow's steps in execution order
func (s *KVStore) FindTransformations(ctx context.Context, flowID string) ([]*Transformation, error) {
	if err := checkKey("FindTransformations", flowID); err != nil {
		return nil, err
	}
	list, err := listJSON[Transformation](ctx, s.transformations, "transformation", flowID+".")
	if err != nil {
		return nil, err
	}
	sortTransformations(list)
	return list, nil
}

// SaveTransformation creates or replaces a step
func (s *KVStore) SaveTransformation(ctx context.Context, t *Transformation) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "KVStore", "SaveTransformation", "transformation validation")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := checkKey("SaveTransformation", t.FlowID, t.ID); err != nil {
		return err
	}
	return putJSON(ctx, s.transformations, "transformation", t.FlowID+"."+t.ID, t)
}

// DeleteTransformation removes a step and its mappings
func (s *KVStore) DeleteTransformation(ctx context.Context, id string) error {
	if err := checkKey("DeleteTransformation", id); err != nil {
		return err
	}
	key, err := findChildKey(ctx, s.transformations, "transformation", id)
	if err != nil {
		return err
	}
	if err := s.transformations.Delete(ctx, key); err != nil && !errors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "KVStore", "DeleteTransformation", "delete transformation")
	}

	mappings, err := s.FindMappings(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if err := s.mappings.Delete(ctx, id+"."+m.ID); err != nil && !errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return errors.WrapTransient(err, "KVStore", "DeleteTransformation", "delete mapping")
		}
	}
	return nil
}

// FindMappings lists the step's mappings in mapping order
func (s *KVStore) FindMappings(ctx context.Context, transformationID string) ([]*FieldMapping, error) {
	if err := checkKey("FindMappings", transformationID); err != nil {
		return nil, err
	}
	list, err := listJSON[FieldMapping](ctx, s.mappings, "mapping", transformationID+".")
	if err != nil {
		return nil, err
	}
	sortMappings(list)
	return list, nil
}

// SaveMapping creates or replaces a mapping
func (s *KVStore) SaveMapping(ctx context.Context, m *FieldMapping) error {
	if m == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "KVStore", "SaveMapping", "mapping validation")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if err := checkKey("SaveMapping", m.TransformationID, m.ID); err != nil {
		return err
	}
	return putJSON(ctx, s.mappings, "mapping", m.TransformationID+"."+m.ID, m)
}

// DeleteMapping removes a mapping
func (s *KVStore) DeleteMapping(ctx context.Context, id string) error {
	if err := checkKey("DeleteMapping", id); err != nil {
		return err
	}
	key, err := findChildKey(ctx, s.mappings, "mapping", id)
	if err != nil {
		return err
	}
	if err := s.mappings.Delete(ctx, key); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return notFound("mapping", id)
		}
		return errors.WrapTransient(err, "KVStore", "DeleteMapping", "delete mapping")
	}
	return nil
}

// FindFunctionByName scans functions for an exact name match
func (s *KVStore) FindFunctionByName(ctx context.Context, name string) (*ReusableFunction, error) {
	list, err := s.ListFunctions(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range list {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, notFound("function", name)
}

// FindFunctionByID fetches a function
func (s *KVStore) FindFunctionByID(ctx context.Context, id string) (*ReusableFunction, error) {
	if !validKey.MatchString(id) {
		return nil, notFound("function", id)
	}
	f, _, err := getJSON[ReusableFunction](ctx, s.functions, "function", id, id)
	return f, err
}

// ListFunctions fetches all functions ordered by name
func (s *KVStore) ListFunctions(ctx context.Context) ([]*ReusableFunction, error) {
	list, err := listJSON[ReusableFunction](ctx, s.functions, "function", "")
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// SaveFunction creates or replaces a function
func (s *KVStore) SaveFunction(ctx context.Context, f *ReusableFunction) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "KVStore", "SaveFunction", "function validation")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if err := checkKey("SaveFunction", f.ID); err != nil {
		return err
	}
	existing, err := s.FindFunctionByName(ctx, f.Name)
	if err == nil && existing.ID != f.ID {
		return fmt.Errorf("function name %q: %w", f.Name, errors.ErrAlreadyExists)
	}
	if err != nil && !IsNotFound(err) {
		return err
	}
	return putJSON(ctx, s.functions, "function", f.ID, f)
}

// DeleteFunction removes a function
func (s *KVStore) DeleteFunction(ctx context.Context, id string) error {
	if _, err := s.FindFunctionByID(ctx, id); err != nil {
		return err
	}
	if err := s.functions.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return notFound("function", id)
		}
		return errors.WrapTransient(err, "KVStore", "DeleteFunction", "delete function")
	}
	return nil
}

// FindAdapterConfig fetches an adapter definition
func (s *KVStore) FindAdapterConfig(ctx context.Context, id string) (*AdapterDefinition, error) {
	if err := checkKey("FindAdapterConfig", id); err != nil {
		return nil, err
	}
	a, _, err := getJSON[AdapterDefinition](ctx, s.adapters, "adapter", id, id)
	return a, err
}

// ListAdapterConfigs fetches all adapter definitions ordered by id
func (s *KVStore) ListAdapterConfigs(ctx context.Context) ([]*AdapterDefinition, error) {
	return listJSON[AdapterDefinition](ctx, s.adapters, "adapter", "")
}

// SaveAdapterConfig creates or replaces an adapter definition
func (s *KVStore) SaveAdapterConfig(ctx context.Context, a *AdapterDefinition) error {
	if a == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "KVStore", "SaveAdapterConfig", "adapter validation")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := checkKey("SaveAdapterConfig", a.ID); err != nil {
		return err
	}
	return putJSON(ctx, s.adapters, "adapter", a.ID, a)
}

// DeleteAdapterConfig removes an adapter definition
func (s *KVStore) DeleteAdapterConfig(ctx context.Context, id string) error {
	if _, err := s.FindAdapterConfig(ctx, id); err != nil {
		return err
	}
	if err := s.adapters.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) {
			return notFound("adapter", id)
		}
		return errors.WrapTransient(err, "KVStore", "DeleteAdapterConfig", "delete adapter")
	}
	return nil
}
