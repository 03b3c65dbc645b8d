package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRunID     contextKey = "run_id"
	keyFlowRunID contextKey = "flow_run_id"
	keyJobID     contextKey = "job_id"
)

// WithRunID adds the crew execution ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the crew execution ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithFlowRunID adds the flow execution ID to context.
func WithFlowRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyFlowRunID, id)
}

// FlowRunID extracts the flow execution ID from context.
func FlowRunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyFlowRunID).(string)
	return v, ok && v != ""
}

// WithJobID adds the dispatching job ID to context.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyJobID, id)
}

// JobID extracts the dispatching job ID from context.
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyJobID).(string)
	return v, ok && v != ""
}
