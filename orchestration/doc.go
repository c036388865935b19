// Package orchestration runs flows as tracked, cancellable workflows.
//
// Every run walks the same steps in order:
//
//	INITIALIZE → LOAD_COMPONENTS → INITIALIZE_ADAPTERS →
//	EXECUTE_TRANSFORMATIONS → PROCESS_TARGETS → COMPLETE
//
// Each step appends a timestamped line to the execution log before and after
// it acts. A failing step ends the run as FAILED and the remaining steps are
// skipped. PROCESS_TARGETS sends to the primary and every additional target
// concurrently.
//
// Runs execute on a bounded worker pool, one worker per run. ExecuteAsync
// returns a Handle at once; Execute waits for the Result. A Handle always
// resolves, failures included.
//
// # Status
//
//	RUNNING ─┬─▶ COMPLETED
//	         ├─▶ FAILED
//	         └─▶ CANCELLED
//
// All three right-hand states are final. Cancel only flips a RUNNING
// execution; the worker notices at the next step boundary. Cancel on a
// finished execution returns false and changes nothing.
//
// Executions stay queryable through Status and History until Evict drops
// them.
package orchestration
