// Package engine executes integration flows.
//
// A Service moves one message through a flow:
//
//	source adapter ─Receive─▶ routing ─▶ pipeline ─▶ routing ─Send─▶ target adapter(s)
//
// PASS_THROUGH flows skip the pipeline and deliver the received bytes
// unchanged. WITH_MAPPING flows convert the payload to a canonical document,
// run the flow's transformations in execution order and render the result
// in each target protocol's format.
//
// Adapters are created through the adapter.FactoryRegistry for every run
// and destroyed when the run ends. The source message is acknowledged only
// after every target accepted it, or when a FILTER step consumed it.
//
// # Counters
//
// ExecuteFlow updates the flow's executionCount and either successCount or
// errorCount exactly once per run. Runs that find no message at the source
// and flows that may not run at all (unknown, not deployed) leave the
// counters untouched.
//
// # Building blocks
//
// Load, OpenSender, OpenReceiver, Process, Render and Deliver expose the
// individual phases so the orchestration engine can drive them step by
// step.
package engine
