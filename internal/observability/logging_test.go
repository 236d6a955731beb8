package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogContextAccumulates(t *testing.T) {
	ctx := context.Background()
	ctx = WithProjectID(ctx, "p1")
	ctx = WithPhase(ctx, "analyzing")
	ctx = WithAgent(ctx, "security")

	lc := GetContext(ctx)
	assert.Equal(t, "p1", lc.ProjectID)
	assert.Equal(t, "analyzing", lc.Phase)
	assert.Equal(t, "security", lc.Agent)
	assert.Empty(t, lc.OwnerID)
}

func TestLogContextOverwriteDoesNotLeakUpstream(t *testing.T) {
	base := WithProjectID(context.Background(), "p1")
	child := WithPhase(base, "extracting")

	assert.Empty(t, GetContext(base).Phase)
	assert.Equal(t, "extracting", GetContext(child).Phase)
	assert.Equal(t, "p1", GetContext(child).ProjectID)
}

func TestGetLogAttrsSkipsEmptyFields(t *testing.T) {
	ctx := WithProjectID(context.Background(), "p1")
	attrs := getLogAttrs(ctx)
	assert.Len(t, attrs, 1)
	assert.Equal(t, "project.id", attrs[0].Key)
}
