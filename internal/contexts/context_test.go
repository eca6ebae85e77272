package contexts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	_, ok := GetTraceID(ctx)
	assert.False(t, ok)

	ctx = WithTraceID(ctx, "oc-trace-1")

	traceID, ok := GetTraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "oc-trace-1", traceID)
}

func TestContainerIsShared(t *testing.T) {
	ctx := WithTraceID(context.Background(), "oc-trace-1")
	ctx = WithRequestID(ctx, "oc-req-1")
	ctx = WithVerifiedUserID(ctx, "user-1")

	traceID, ok := GetTraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "oc-trace-1", traceID)

	requestID, ok := GetRequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "oc-req-1", requestID)

	userID, ok := GetVerifiedUserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)
}

func TestErrors(t *testing.T) {
	ctx := WithTraceID(context.Background(), "oc-trace-1")

	assert.Empty(t, GetErrors(ctx))

	AddError(ctx, errors.New("boom"))
	AddError(ctx, errors.New("bang"))

	errs := GetErrors(ctx)
	assert.Len(t, errs, 2)
}
