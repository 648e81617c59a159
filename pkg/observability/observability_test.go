package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsDisabled(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)

	// Every Record call must be a safe no-op on a disabled provider.
	ctx := context.Background()
	p.RecordDecision(ctx, "tenant-a", true, time.Millisecond)
	p.RecordReload(ctx, "tenant-a", errors.New("boom"))
	p.RecordQuotaRejection(ctx, "tenant-a", "message_count")
	p.RecordUploadCycle(ctx, 3, nil)

	_, span := p.StartSpan(ctx, "noop")
	span.End()

	assert.NoError(t, p.Shutdown(ctx))
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := FromEnv("edgepolicy-test")
	assert.Equal(t, "edgepolicy-test", cfg.ServiceName)
	assert.Empty(t, cfg.OTLPEndpoint)
}
