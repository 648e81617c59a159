package quotatracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRolloverResetsStaleCounters(t *testing.T) {
	tr := New(nil, 0, 0, true)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tq := &tenantQuota{
		messageCount:    10,
		byteCount:       2048,
		messagePeriod:   "2026-03-01",
		bandwidthPeriod: "2026-02",
	}

	tr.rollover(tq, now)

	assert.Equal(t, int64(0), tq.messageCount)
	assert.Equal(t, int64(0), tq.byteCount)
	assert.Equal(t, "2026-03-02", tq.messagePeriod)
	assert.Equal(t, "2026-03", tq.bandwidthPeriod)
}

func TestRolloverKeepsCurrentPeriod(t *testing.T) {
	tr := New(nil, 0, 0, true)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tq := &tenantQuota{
		messageCount:    10,
		byteCount:       2048,
		messagePeriod:   "2026-03-02",
		bandwidthPeriod: "2026-03",
	}

	tr.rollover(tq, now)

	assert.Equal(t, int64(10), tq.messageCount)
	assert.Equal(t, int64(2048), tq.byteCount)
}

func TestRolloverDisabledAccumulatesAcrossPeriods(t *testing.T) {
	tr := New(nil, 0, 0, false)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tq := &tenantQuota{
		messageCount:    10,
		byteCount:       2048,
		messagePeriod:   "2026-03-01",
		bandwidthPeriod: "2026-02",
	}

	tr.rollover(tq, now)

	assert.Equal(t, int64(10), tq.messageCount)
	assert.Equal(t, "2026-03-01", tq.messagePeriod)
}
