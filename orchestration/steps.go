package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/audit"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pipeline"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/routing"
)

// workflow is the mutable state of one run, owned by its worker.
type workflow struct {
	rec   *record
	input []byte

	bundle    *engine.Bundle
	pipeline  *pipeline.Pipeline
	sender    adapter.Sender
	message   *adapter.Message
	receivers []adapter.Receiver
	processed *engine.Processed
	delivered int
}

type stepDef struct {
	step   Step
	before string
	after  string
	run    func(context.Context, *workflow) error
}

func (e *Engine) steps() []stepDef {
	return []stepDef{
		{StepInitialize, "Process initialized - setting up execution context", "Execution context ready", e.initialize},
		{StepLoadComponents, "Loading business components", "Business components loaded successfully", e.loadComponents},
		{StepInitializeAdapters, "Initializing communication adapters", "Source and target adapters initialized", e.initializeAdapters},
		{StepExecuteTransformations, "Executing transformation functions", "Transformations executed successfully", e.executeTransformations},
		{StepProcessTargets, "Processing multiple target systems", "Multiple targets processed successfully", e.processTargets},
		{StepComplete, "Completing orchestration process", "Process completed - cleaning up resources", e.complete},
	}
}

// run drives r through every step. Cancellation is checked between steps;
// a step that is already running is never interrupted.
func (e *Engine) run(ctx context.Context, r *record) *Result {
	w := &workflow{rec: r}
	defer e.release(ctx, w)

	r.log("Beginning workflow execution")
	for _, s := range e.steps() {
		if r.status() != StatusRunning {
			return e.stopped(r)
		}
		r.setStep(s.step)
		r.log(s.before)
		if err := s.run(ctx, w); err != nil {
			return e.fail(r, s.step, err)
		}
		r.log(s.after)
	}

	if !r.finish(stateCompleted) {
		return e.stopped(r)
	}
	r.log("Orchestration execution completed successfully")
	snap := r.snapshot()
	e.metrics.finished(StatusCompleted, snap.Duration())
	e.auditEntry(r, audit.LevelInfo, "Orchestration execution completed", map[string]any{
		"processed_targets": w.delivered, "duration_ms": snap.Duration().Milliseconds(),
	})
	e.logger.Info("Orchestration execution completed", "flow_id", r.flowID, "execution_id", r.id,
		"processed_targets", w.delivered, "duration", snap.Duration())

	return &Result{
		Success:     true,
		Data:        snap.OutputData,
		Logs:        r.logLines(),
		ExecutionID: r.id,
	}
}

func (e *Engine) initialize(_ context.Context, w *workflow) error {
	data, err := inputBytes(w.rec.input)
	if err != nil {
		return errors.WrapInvalid(err, "orchestration", "initialize", "encode input data")
	}
	w.input = data
	if data != nil {
		w.rec.log("Input data accepted (%d bytes)", len(data))
	}
	return nil
}

// loadComponents resolves the flow's adapter definitions and prepares its
// transformation pipeline.
func (e *Engine) loadComponents(ctx context.Context, w *workflow) error {
	b, err := e.svc.Load(ctx, w.rec.flowID)
	if err != nil {
		return err
	}
	w.bundle = b
	if b.Flow.EffectiveMappingMode() == flowstore.PassThrough {
		return nil
	}
	p, err := e.svc.BuildPipeline(ctx, b.Flow)
	if err != nil {
		return err
	}
	w.pipeline = p
	w.rec.log("Prepared %d transformation step(s)", p.Len())
	return nil
}

// initializeAdapters opens every target. Without input data the source
// adapter is opened too and supplies the message.
func (e *Engine) initializeAdapters(ctx context.Context, w *workflow) error {
	if w.input == nil {
		sender, err := e.svc.OpenSender(ctx, w.bundle.Source)
		if err != nil {
			return err
		}
		w.sender = sender
		msg, err := sender.Receive(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrNoMessage) {
				return fmt.Errorf("no input data and no message available at source %s: %w", w.bundle.Source.Name, err)
			}
			return err
		}
		w.message = msg
		w.rec.log("Received %d bytes from source %s", len(msg.Payload), w.bundle.Source.Name)
	} else {
		w.message = adapter.NewMessage(w.input, "", "orchestration")
	}

	for _, def := range w.bundle.Targets {
		receiver, err := e.svc.OpenReceiver(ctx, def)
		if err != nil {
			return err
		}
		w.receivers = append(w.receivers, receiver)
	}
	return nil
}

func (e *Engine) executeTransformations(ctx context.Context, w *workflow) error {
	routed, err := e.svc.Router().Route(ctx, w.bundle.Flow, w.bundle.Source, w.message)
	if err != nil {
		return err
	}
	w.processed = &engine.Processed{Routed: routed}
	if routed.Mode == flowstore.PassThrough || w.pipeline == nil {
		w.rec.setTransformed(string(routed.Raw))
		return nil
	}

	res, err := w.pipeline.Run(ctx, routed.Document)
	if err != nil {
		return err
	}
	w.processed.Result = res
	w.rec.setTransformed(res.Document.Value())
	if res.Filtered {
		w.rec.log("Message filtered out by transformation %s", res.FilteredBy)
	}
	return nil
}

// processTargets sends to all targets concurrently. The first failure
// cancels the sends still in flight.
func (e *Engine) processTargets(ctx context.Context, w *workflow) error {
	var delivered atomic.Int64
	if !w.processed.Filtered() {
		g, gctx := errgroup.WithContext(ctx)
		for i, def := range w.bundle.Targets {
			def, receiver := def, w.receivers[i]
			g.Go(func() error {
				data, err := e.svc.Render(gctx, w.bundle, def, w.processed)
				if err != nil {
					return err
				}
				contentType := w.processed.Routed.ContentType
				if w.processed.Routed.Mode != flowstore.PassThrough {
					contentType = routing.ContentType(data)
				}
				res, err := receiver.Send(gctx, adapter.NewMessage(data, contentType, def.ID))
				if err != nil {
					return err
				}
				if res != nil && !res.Success {
					return errors.NewAdapterError(string(def.Type), string(adapter.ModeReceiver), "send",
						fmt.Errorf("target reported failure: %s", res.Message))
				}
				delivered.Add(1)
				w.rec.log("Delivered %d bytes to target %s", len(data), def.Name)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	w.delivered = int(delivered.Load())

	if err := w.message.Ack(ctx); err != nil {
		return errors.WrapTransient(err, "orchestration", "processTargets", "acknowledge source message")
	}

	snap := w.rec.snapshot()
	w.rec.setOutput(map[string]any{
		"transformedData":  snap.TransformedData,
		"processedTargets": w.delivered,
		"timestamp":        w.rec.now().Format(time.RFC3339Nano),
	})
	return nil
}

func (e *Engine) complete(ctx context.Context, w *workflow) error {
	e.release(ctx, w)
	return nil
}

// release destroys every adapter the run opened. It runs again on exit, so
// it forgets what it closed.
func (e *Engine) release(ctx context.Context, w *workflow) {
	for _, r := range w.receivers {
		e.svc.Close(ctx, r)
	}
	w.receivers = nil
	if w.sender != nil {
		e.svc.Close(ctx, w.sender)
		w.sender = nil
	}
}

// inputBytes turns caller input into a payload. Nil means the source
// adapter supplies the message.
func inputBytes(input any) ([]byte, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
