package runctx

import (
	"context"
	"errors"
)

// Key for run values in context
type contextKey string

const (
	runIDKey  contextKey = "runID"
	domainKey contextKey = "domain"
)

// ErrNoRunIDInContext is returned when no run ID is found in context
var ErrNoRunIDInContext = errors.New("no run ID found in context")

// ErrNoDomainInContext is returned when no pipeline domain is found in context
var ErrNoDomainInContext = errors.New("no domain found in context")

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run ID from the context
func RunIDFromContext(ctx context.Context) (string, error) {
	runID, ok := ctx.Value(runIDKey).(string)
	if !ok || runID == "" {
		return "", ErrNoRunIDInContext
	}
	return runID, nil
}

// WithDomain tags the context with the pipeline domain ("students" or "sales")
func WithDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, domainKey, domain)
}

// DomainFromContext extracts the pipeline domain from the context
func DomainFromContext(ctx context.Context) (string, error) {
	domain, ok := ctx.Value(domainKey).(string)
	if !ok || domain == "" {
		return "", ErrNoDomainInContext
	}
	return domain, nil
}
