package runctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunID_RoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	id, err := RunIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "run-1", id)
}

func TestRunID_Missing(t *testing.T) {
	_, err := RunIDFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRunIDInContext)

	_, err = RunIDFromContext(WithRunID(context.Background(), ""))
	assert.ErrorIs(t, err, ErrNoRunIDInContext)
}

func TestDomain_RoundTrip(t *testing.T) {
	ctx := WithDomain(context.Background(), "sales")
	d, err := DomainFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "sales", d)

	_, err = DomainFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoDomainInContext)
}
