package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrogen-io/hydrogen/wire"
)

func TestConnectionTable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	table := NewConnectionTable()

	assert.Zero(table.Len())
	assert.False(table.Remove("missing"))

	table.Add(ConnectionInfo{
		ClientID:      "ws_1",
		Protocol:      wire.ProtocolWebSocket,
		RemoteAddress: "10.0.0.1",
		RemotePort:    52001,
		ConnectedAt:   time.Now(),
	})
	table.Add(ConnectionInfo{ClientID: "ws_2", Protocol: wire.ProtocolWebSocket})

	assert.Equal(2, table.Len())

	record, ok := table.Get("ws_1")
	require.True(ok)
	assert.Equal("10.0.0.1", record.RemoteAddress)
	assert.Equal(52001, record.RemotePort)

	_, ok = table.Get("missing")
	assert.False(ok)

	assert.True(table.Remove("ws_2"))
	assert.Equal(1, table.Len())
	assert.Len(table.List(), 1)
}

func TestConnectionTableTouch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	table := NewConnectionTable()

	table.Add(ConnectionInfo{ClientID: "ws_1", LastActivity: time.Now().Add(-time.Hour)})
	table.Touch("ws_1")
	table.Touch("missing")

	record, ok := table.Get("ws_1")
	require.True(ok)
	assert.WithinDuration(time.Now(), record.LastActivity, time.Second)
}

func TestConnectionTableSnapshots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	table := NewConnectionTable()

	table.Add(ConnectionInfo{ClientID: "ws_1", Metadata: map[string]string{"agent": "cli"}})

	// mutating a snapshot must not affect the table
	record, ok := table.Get("ws_1")
	require.True(ok)
	record.RemoteAddress = "tampered"

	stored, _ := table.Get("ws_1")
	assert.Empty(stored.RemoteAddress)
}

func TestConnectionTableClear(t *testing.T) {
	assert := assert.New(t)
	table := NewConnectionTable()

	table.Add(ConnectionInfo{ClientID: "ws_1"})
	table.Add(ConnectionInfo{ClientID: "ws_2"})

	removed := table.Clear()
	assert.Len(removed, 2)
	assert.Contains(removed, "ws_1")
	assert.Contains(removed, "ws_2")
	assert.Zero(table.Len())
}

func TestStatusString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("STOPPED", StatusStopped.String())
	assert.Equal("STARTING", StatusStarting.String())
	assert.Equal("RUNNING", StatusRunning.String())
	assert.Equal("STOPPING", StatusStopping.String())
	assert.Equal("ERROR", StatusError.String())
	assert.Equal("Status(9)", Status(9).String())
}
