package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxAgentID ctxKey = iota
	ctxBearer
)

// WithIdentity attaches the verified agent identity and the raw bearer token
// to the context. The raw token is kept because the finalize notification is
// forwarded to the external application under the caller's credential.
func WithIdentity(ctx context.Context, agentID, bearer string) context.Context {
	ctx = context.WithValue(ctx, ctxAgentID, agentID)
	ctx = context.WithValue(ctx, ctxBearer, bearer)
	return ctx
}

func AgentID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAgentID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("agent_id not in context")
}

// Bearer returns the raw access token of the current request, if any.
func Bearer(ctx context.Context) string {
	if s, ok := ctx.Value(ctxBearer).(string); ok {
		return s
	}
	return ""
}
