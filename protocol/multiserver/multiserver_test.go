package multiserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/wire"
)

// fakeServer is a scriptable protocol.Server.
type fakeServer struct {
	protocol_   wire.Protocol
	status      protocol.Status
	startError  error
	stopError   error
	started     int
	stopped     int
	connections []protocol.ConnectionInfo

	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback
}

func (f *fakeServer) Start(context.Context) error {
	f.started++
	if f.startError != nil {
		f.status = protocol.StatusError
		return f.startError
	}

	f.status = protocol.StatusRunning
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	f.stopped++
	if f.stopError != nil {
		return f.stopError
	}

	f.status = protocol.StatusStopped
	return nil
}

func (f *fakeServer) Restart(ctx context.Context) error {
	if err := f.Stop(ctx); err != nil {
		return err
	}

	return f.Start(ctx)
}

func (f *fakeServer) Status() protocol.Status                { return f.status }
func (f *fakeServer) Config() map[string]string              { return nil }
func (f *fakeServer) SetConfig(map[string]string) error      { return nil }
func (f *fakeServer) ValidateConfig(map[string]string) error { return nil }

func (f *fakeServer) ActiveConnections() []protocol.ConnectionInfo {
	return f.connections
}

func (f *fakeServer) ConnectionCount() int          { return len(f.connections) }
func (f *fakeServer) DisconnectClient(string) error { return nil }
func (f *fakeServer) Protocol() wire.Protocol       { return f.protocol_ }
func (f *fakeServer) ProtocolName() string          { return f.protocol_.String() }
func (f *fakeServer) IsHealthy() bool               { return f.status == protocol.StatusRunning }
func (f *fakeServer) HealthStatus() string          { return f.status.String() }

func (f *fakeServer) SetConnectCallback(callback protocol.ConnectCallback) {
	f.connectCallback = callback
}

func (f *fakeServer) SetDisconnectCallback(callback protocol.DisconnectCallback) {
	f.disconnectCallback = callback
}

func (f *fakeServer) SetMessageCallback(callback protocol.MessageCallback) {
	f.messageCallback = callback
}

func newTestManager(t *testing.T) *Manager {
	return NewManager(logging.NewTestLogger(nil, t))
}

func TestManageRejectsDuplicates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	require.NoError(m.Manage(&fakeServer{protocol_: wire.ProtocolHTTP}))
	assert.Equal(ErrDuplicateProtocol, m.Manage(&fakeServer{protocol_: wire.ProtocolHTTP}))
	require.NoError(m.Manage(&fakeServer{protocol_: wire.ProtocolGRPC}))
	assert.Equal([]wire.Protocol{wire.ProtocolHTTP, wire.ProtocolGRPC}, m.Protocols())
}

func TestStartAllContinuesPastFailures(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	broken := &fakeServer{protocol_: wire.ProtocolHTTP, startError: errors.New("bind failed")}
	healthy := &fakeServer{protocol_: wire.ProtocolGRPC}
	require.NoError(m.Manage(broken))
	require.NoError(m.Manage(healthy))

	err := m.StartAll(context.Background())
	require.Error(err)
	assert.Contains(err.Error(), "bind failed")
	assert.Equal(1, broken.started)
	assert.Equal(1, healthy.started)
	assert.Equal(protocol.StatusRunning, healthy.Status())
}

func TestStopAllReverseOrderSkipsStopped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	first := &fakeServer{protocol_: wire.ProtocolHTTP}
	second := &fakeServer{protocol_: wire.ProtocolGRPC}
	require.NoError(m.Manage(first))
	require.NoError(m.Manage(second))
	require.NoError(m.StartAll(context.Background()))

	first.status = protocol.StatusStopped
	require.NoError(m.StopAll(context.Background()))
	assert.Equal(0, first.stopped)
	assert.Equal(1, second.stopped)
}

func TestOverallStatusPrecedence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	a := &fakeServer{protocol_: wire.ProtocolHTTP, status: protocol.StatusRunning}
	b := &fakeServer{protocol_: wire.ProtocolGRPC, status: protocol.StatusStopped}
	require.NoError(m.Manage(a))
	require.NoError(m.Manage(b))

	assert.Equal(protocol.StatusRunning, m.OverallStatus())

	b.status = protocol.StatusStarting
	assert.Equal(protocol.StatusStarting, m.OverallStatus())

	a.status = protocol.StatusError
	assert.Equal(protocol.StatusError, m.OverallStatus())

	a.status = protocol.StatusStopped
	b.status = protocol.StatusStopped
	assert.Equal(protocol.StatusStopped, m.OverallStatus())
}

func TestGlobalCallbacks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	server := &fakeServer{protocol_: wire.ProtocolZMQ}
	require.NoError(m.Manage(server))

	var connected, disconnected, messages int
	m.SetConnectCallback(func(protocol.ConnectionInfo) { connected++ })
	m.SetDisconnectCallback(func(string) { disconnected++ })
	m.SetMessageCallback(func(string, *wire.Message) { messages++ })

	server.connectCallback(protocol.ConnectionInfo{ClientID: "peer-1"})
	server.disconnectCallback("peer-1")
	server.messageCallback("peer-1", wire.NewMessage(wire.EventType))

	assert.Equal(1, connected)
	assert.Equal(1, disconnected)
	assert.Equal(1, messages)
}

func TestAllConnections(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := newTestManager(t)

	require.NoError(m.Manage(&fakeServer{
		protocol_:   wire.ProtocolHTTP,
		connections: []protocol.ConnectionInfo{{ClientID: "ws_b"}, {ClientID: "ws_a"}},
	}))
	require.NoError(m.Manage(&fakeServer{
		protocol_:   wire.ProtocolZMQ,
		connections: []protocol.ConnectionInfo{{ClientID: "station-1"}},
	}))

	all := m.AllConnections()
	require.Len(all, 3)
	assert.Equal("station-1", all[0].ClientID)
	assert.Equal("ws_a", all[1].ClientID)
	assert.Equal("ws_b", all[2].ClientID)
	assert.Equal(3, m.ConnectionCount())
}
