package orchestration

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of an orchestration execution
type Status string

// Execution states. Everything but StatusRunning is terminal.
const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is final
func (s Status) Terminal() bool { return s != StatusRunning }

// Step names the workflow phase an execution is in
type Step string

// Workflow steps in execution order
const (
	StepInitialize             Step = "INITIALIZE"
	StepLoadComponents         Step = "LOAD_COMPONENTS"
	StepInitializeAdapters     Step = "INITIALIZE_ADAPTERS"
	StepExecuteTransformations Step = "EXECUTE_TRANSFORMATIONS"
	StepProcessTargets         Step = "PROCESS_TARGETS"
	StepComplete               Step = "COMPLETE"
)

// status codes stored in record.state
const (
	stateRunning uint32 = iota
	stateCompleted
	stateFailed
	stateCancelled
)

var statusNames = [...]Status{StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// Execution is a point-in-time copy of an orchestration run.
type Execution struct {
	ID              string     `json:"executionId"`
	FlowID          string     `json:"flowId"`
	FlowName        string     `json:"flowName"`
	Status          Status     `json:"status"`
	CurrentStep     Step       `json:"currentStep"`
	InputData       any        `json:"inputData,omitempty"`
	TransformedData any        `json:"transformedData,omitempty"`
	OutputData      any        `json:"outputData,omitempty"`
	Logs            []string   `json:"logs"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Duration is the run time so far, or the total once the run ended.
func (e *Execution) Duration() time.Duration {
	if e.EndTime != nil {
		return e.EndTime.Sub(e.StartTime)
	}
	return time.Since(e.StartTime)
}

// record is the live state of one run. The worker running it is the only
// writer of everything except state, which Cancel may flip with a CAS.
type record struct {
	state atomic.Uint32

	mu              sync.RWMutex
	id              string
	flowID          string
	flowName        string
	currentStep     Step
	input           any
	transformedData any
	outputData      any
	logs            []string
	start           time.Time
	end             *time.Time
	err             error

	seq    uint64
	now    func() time.Time
	handle *Handle
}

func newRecord(id, flowID, flowName string, input any, now func() time.Time) *record {
	return &record{
		id:       id,
		flowID:   flowID,
		flowName: flowName,
		input:    input,
		start:    now(),
		now:      now,
		handle:   newHandle(id),
	}
}

func (r *record) status() Status { return statusNames[r.state.Load()] }

// finish moves a running record to a terminal state. It returns false when
// the record already left RUNNING, so a cancelled run stays cancelled.
func (r *record) finish(to uint32) bool {
	if !r.state.CompareAndSwap(stateRunning, to) {
		return false
	}
	r.mu.Lock()
	end := r.now()
	r.end = &end
	r.mu.Unlock()
	return true
}

// cancel flips RUNNING to CANCELLED
func (r *record) cancel() bool {
	if !r.finish(stateCancelled) {
		return false
	}
	r.log("Execution cancelled by user")
	return true
}

func (r *record) log(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.mu.Lock()
	r.logs = append(r.logs, r.now().Format(time.RFC3339Nano)+": "+msg)
	r.mu.Unlock()
}

func (r *record) setStep(s Step) {
	r.mu.Lock()
	r.currentStep = s
	r.mu.Unlock()
}

func (r *record) step() Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentStep
}

func (r *record) setTransformed(v any) {
	r.mu.Lock()
	r.transformedData = v
	r.mu.Unlock()
}

func (r *record) setOutput(v any) {
	r.mu.Lock()
	r.outputData = v
	r.mu.Unlock()
}

func (r *record) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *record) logLines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.logs...)
}

func (r *record) snapshot() *Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := &Execution{
		ID:              r.id,
		FlowID:          r.flowID,
		FlowName:        r.flowName,
		Status:          r.status(),
		CurrentStep:     r.currentStep,
		InputData:       r.input,
		TransformedData: r.transformedData,
		OutputData:      r.outputData,
		Logs:            append([]string(nil), r.logs...),
		StartTime:       r.start,
	}
	if r.end != nil {
		end := *r.end
		e.EndTime = &end
	}
	if r.err != nil {
		e.Error = r.err.Error()
	}
	return e
}

// arena indexes every execution by id
type arena struct {
	mu      sync.RWMutex
	records map[string]*record
	next    uint64
}

func newArena() *arena {
	return &arena{records: make(map[string]*record)}
}

func (a *arena) put(r *record) {
	a.mu.Lock()
	a.next++
	r.seq = a.next
	a.records[r.id] = r
	a.mu.Unlock()
}

func (a *arena) get(id string) (*record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[id]
	return r, ok
}

// history returns up to limit records of flowID, newest start first. A
// non-positive limit returns nothing.
func (a *arena) history(flowID string, limit int) []*record {
	if limit <= 0 {
		return nil
	}
	a.mu.RLock()
	var out []*record
	for _, r := range a.records {
		if r.flowID == flowID {
			out = append(out, r)
		}
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start.Equal(out[j].start) {
			return out[i].seq > out[j].seq
		}
		return out[i].start.After(out[j].start)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// evict drops terminal records that ended before cutoff
func (a *arena) evict(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for id, r := range a.records {
		if !r.status().Terminal() {
			continue
		}
		r.mu.RLock()
		end := r.end
		r.mu.RUnlock()
		if end != nil && end.Before(cutoff) {
			delete(a.records, id)
			n++
		}
	}
	return n
}

// unresolved returns records whose handle has no result yet
func (a *arena) unresolved() []*record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*record
	for _, r := range a.records {
		select {
		case <-r.handle.done:
		default:
			out = append(out, r)
		}
	}
	return out
}
