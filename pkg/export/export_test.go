package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/scm/core/history"
	"github.com/kilianp07/scm/core/model"
)

func records() []history.Record {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []history.Record{
		{Timestamp: at, CycleID: "c1", Group: "north", Outcome: "skipped_no_budget"},
		{Timestamp: at, CycleID: "c2", Group: "north", Outcome: "published", Profiles: []model.ChargingProfile{{
			SessionID: "ev-1", StationID: "cs-1", ConnectorID: 2, Unit: model.UnitW, StartSchedule: at,
			Periods: []model.SchedulePeriod{{StartPeriod: 0, Limit: 7000}, {StartPeriod: 900, Limit: 3500.5}},
		}}},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,cycle_id,group,session_id,station_id,connector_id,period_start,limit,unit", lines[0])
	assert.Equal(t, "2024-05-01T10:00:00Z,c2,north,ev-1,cs-1,2,2024-05-01T10:00:00Z,7000,W", lines[1])
	assert.Equal(t, "2024-05-01T10:00:00Z,c2,north,ev-1,cs-1,2,2024-05-01T10:15:00Z,3500.5,W", lines[2])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, records()))
	var got []history.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[1].CycleID)
	assert.Len(t, got[1].Profiles, 1)
}
