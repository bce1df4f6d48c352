package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordID(t *testing.T) {
	local := NewLocalRecordID(time.Now())
	assert.True(t, local.IsLocal())
	assert.True(t, ParseRecordID(local.Value).IsLocal())

	remote := ParseRecordID("42")
	assert.False(t, remote.IsLocal())
	assert.Equal(t, RemoteID("42"), remote)
	assert.True(t, RecordID{}.IsZero())
}

func TestParseStoreName(t *testing.T) {
	cases := map[string]StoreName{
		"flight-log":          StoreFlightLogs,
		"flightLogs":          StoreFlightLogs,
		"daily-inspections":   StoreInspections,
		"Maintenance-Records": StoreMaintenanceRecords,
	}
	for in, want := range cases {
		got, err := ParseStoreName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStoreName("pilots")
	assert.Error(t, err)
}

func TestIDFromData(t *testing.T) {
	assert.Equal(t, "17", IDFromData(map[string]interface{}{"id": float64(17)}))
	assert.Equal(t, "abc", IDFromData(map[string]interface{}{"id": "abc"}))
	assert.Equal(t, "", IDFromData(map[string]interface{}{"date": "2024-09-24"}))
}

func TestQueueItemDue(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	assert.True(t, (&QueueItem{}).Due(now))
	assert.False(t, (&QueueItem{NextAttemptAt: &later}).Due(now))
	assert.True(t, (&QueueItem{NextAttemptAt: &now}).Due(now))
}

func TestRecordView(t *testing.T) {
	r := &Record{
		ID:         LocalID("local-1-abc"),
		Data:       map[string]interface{}{"duration": 45},
		SyncStatus: SyncStatusPending,
	}
	view := r.View()
	assert.Equal(t, "local-1-abc", view["id"])
	assert.Equal(t, "pending", view["syncStatus"])
	assert.Equal(t, true, view["isLocal"])
	assert.Equal(t, 45, view["duration"])
}
