package decisionbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The relay must deliver locally even when the Redis side is unreachable:
// remote mirroring is telemetry fan-out, never a gate on enforcement.
func TestRedisRelayDeliversLocallyWithoutRedis(t *testing.T) {
	bus := New(0)
	relay := NewRedisRelay("127.0.0.1:0", "", 0, bus)
	defer relay.Stop()

	sub := relay.Subscribe(Filter{TenantID: "tenant-a"})
	defer sub.Close()

	relay.Publish(event("tenant-a", true))

	msg := recv(t, sub)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "tenant-a", msg.Event.TenantID)
}
