// Package zmqserver is the ZeroMQ protocol server.  A single ROUTER socket
// carries request/reply traffic with every peer; messages are framed as
// msgpack, the binary form of the wire message.
package zmqserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrAlreadyRunning = errors.New("the server is already running")
	ErrNotRunning     = errors.New("the server is not running")
	ErrUnknownClient  = errors.New("no connection exists with that client id")
)

// Server is the ZeroMQ protocol server.
type Server struct {
	logger log.Logger

	endpoint      string
	sessionExpiry time.Duration

	stateLock sync.Mutex
	status    protocol.Status
	socket    zmq4.Socket
	cancel    context.CancelFunc
	done      chan struct{}

	sendLock sync.Mutex

	connections *protocol.ConnectionTable

	identityLock sync.Mutex
	identities   map[string][]byte

	callbackLock       sync.RWMutex
	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback
}

var _ protocol.Server = (*Server)(nil)

// New constructs a ZMQ Server from a set of Options.
func New(o *Options) *Server {
	return &Server{
		logger:        o.logger(),
		endpoint:      o.endpoint(),
		sessionExpiry: o.sessionExpiry(),
		connections:   protocol.NewConnectionTable(),
		identities:    make(map[string][]byte),
		status:        protocol.StatusStopped,
	}
}

// Start binds the ROUTER socket and begins the receive loop.
func (s *Server) Start(context.Context) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	if s.status == protocol.StatusRunning || s.status == protocol.StatusStarting {
		return ErrAlreadyRunning
	}

	s.status = protocol.StatusStarting
	ctx, cancel := context.WithCancel(context.Background())
	socket := zmq4.NewRouter(ctx)
	if err := socket.Listen(s.endpoint); err != nil {
		cancel()
		s.status = protocol.StatusError
		return err
	}

	s.socket = socket
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.receiveLoop(socket, s.done)
	s.status = protocol.StatusRunning

	// compute the bound endpoint inline: Endpoint() takes stateLock,
	// which this method still holds
	endpoint := s.endpoint
	if addr := socket.Addr(); addr != nil {
		endpoint = "tcp://" + addr.String()
	}

	s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "zmq server started", "endpoint", endpoint)
	return nil
}

// Stop closes the socket and ends the receive loop.
func (s *Server) Stop(ctx context.Context) error {
	s.stateLock.Lock()
	if s.status != protocol.StatusRunning {
		s.stateLock.Unlock()
		return ErrNotRunning
	}

	s.status = protocol.StatusStopping
	socket := s.socket
	cancel := s.cancel
	done := s.done
	s.stateLock.Unlock()

	cancel()
	socket.Close()

	select {
	case <-done:
	case <-ctx.Done():
	}

	s.connections.Clear()
	s.identityLock.Lock()
	s.identities = make(map[string][]byte)
	s.identityLock.Unlock()

	s.stateLock.Lock()
	s.status = protocol.StatusStopped
	s.stateLock.Unlock()
	return nil
}

// Restart stops and then starts the server.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil && err != ErrNotRunning {
		return err
	}

	return s.Start(ctx)
}

// Status returns the server's lifecycle state.
func (s *Server) Status() protocol.Status {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.status
}

// Endpoint returns the bound endpoint, with the actual port when the
// configured endpoint used an ephemeral one.
func (s *Server) Endpoint() string {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.socket != nil {
		if addr := s.socket.Addr(); addr != nil {
			return "tcp://" + addr.String()
		}
	}

	return s.endpoint
}

// receiveLoop consumes frames until the socket closes.  ROUTER delivers
// each message as [identity, payload].
func (s *Server) receiveLoop(socket zmq4.Socket, done chan<- struct{}) {
	defer close(done)

	for {
		envelope, err := socket.Recv()
		if err != nil {
			s.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "receive loop ended", logging.ErrorKey(), err)
			return
		}

		if len(envelope.Frames) < 2 {
			continue
		}

		identity := envelope.Frames[0]
		payload := envelope.Frames[len(envelope.Frames)-1]
		clientID := string(identity)
		s.observe(clientID, identity)

		message, err := wire.DecodeMsgpack(payload)
		if err != nil {
			s.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "discarding unparseable frame", "clientId", clientID, logging.ErrorKey(), err)
			continue
		}

		message.SourceProtocol = wire.ProtocolZMQ
		if message.Type == wire.HeartbeatType {
			reply := wire.NewMessage(wire.HeartbeatType)
			reply.RecipientID = message.SenderID
			reply.CorrelationID = message.MessageID
			reply.Payload = map[string]interface{}{"timestamp": time.Now().UnixMilli()}
			_ = s.Send(clientID, reply)
			continue
		}

		s.callbackLock.RLock()
		callback := s.messageCallback
		s.callbackLock.RUnlock()
		if callback != nil {
			callback(clientID, message)
		}
	}
}

// observe inserts or refreshes the connection record for a peer identity.
func (s *Server) observe(clientID string, identity []byte) {
	s.identityLock.Lock()
	s.identities[clientID] = identity
	s.identityLock.Unlock()

	if _, ok := s.connections.Get(clientID); ok {
		s.connections.Touch(clientID)
		return
	}

	info := protocol.ConnectionInfo{
		ClientID:     clientID,
		Protocol:     wire.ProtocolZMQ,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
	}

	s.connections.Add(info)
	s.callbackLock.RLock()
	callback := s.connectCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(info)
	}
}

// Send delivers a message to one peer, framed as msgpack.
func (s *Server) Send(clientID string, message *wire.Message) error {
	s.identityLock.Lock()
	identity, ok := s.identities[clientID]
	s.identityLock.Unlock()

	if !ok {
		return ErrUnknownClient
	}

	s.stateLock.Lock()
	socket := s.socket
	status := s.status
	s.stateLock.Unlock()

	if status != protocol.StatusRunning {
		return ErrNotRunning
	}

	message.TargetProtocol = wire.ProtocolZMQ
	data, err := message.EncodeMsgpack()
	if err != nil {
		return err
	}

	// zmq4 sockets are not safe for concurrent sends
	s.sendLock.Lock()
	defer s.sendLock.Unlock()
	return socket.Send(zmq4.NewMsgFrom(identity, data))
}

// Config returns the server's current configuration.
func (s *Server) Config() map[string]string {
	return map[string]string{"endpoint": s.endpoint}
}

// SetConfig replaces the server's configuration.  Only valid while stopped.
func (s *Server) SetConfig(config map[string]string) error {
	if err := s.ValidateConfig(config); err != nil {
		return err
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.status == protocol.StatusRunning || s.status == protocol.StatusStarting {
		return ErrAlreadyRunning
	}

	if endpoint, ok := config["endpoint"]; ok {
		s.endpoint = endpoint
	}

	return nil
}

// ValidateConfig tests a configuration without applying it.
func (s *Server) ValidateConfig(config map[string]string) error {
	if endpoint, ok := config["endpoint"]; ok {
		if !strings.Contains(endpoint, "://") {
			return errors.New("endpoint must carry a transport scheme")
		}
	}

	return nil
}

// ActiveConnections returns snapshots of all known peers.
func (s *Server) ActiveConnections() []protocol.ConnectionInfo {
	return s.connections.List()
}

// ConnectionCount returns the number of known peers.
func (s *Server) ConnectionCount() int {
	return s.connections.Len()
}

// DisconnectClient drops one peer from the connection table.  ROUTER peers
// cannot be closed from the server side; a dropped peer is simply forgotten.
func (s *Server) DisconnectClient(clientID string) error {
	s.identityLock.Lock()
	_, ok := s.identities[clientID]
	delete(s.identities, clientID)
	s.identityLock.Unlock()

	if !ok {
		return ErrUnknownClient
	}

	if s.connections.Remove(clientID) {
		s.callbackLock.RLock()
		callback := s.disconnectCallback
		s.callbackLock.RUnlock()
		if callback != nil {
			callback(clientID)
		}
	}

	return nil
}

// Protocol implements protocol.Server.
func (s *Server) Protocol() wire.Protocol { return wire.ProtocolZMQ }

// ProtocolName implements protocol.Server.
func (s *Server) ProtocolName() string { return "ZeroMQ" }

// IsHealthy reports whether the server is running.
func (s *Server) IsHealthy() bool {
	return s.Status() == protocol.StatusRunning
}

// HealthStatus returns a human-readable health summary.
func (s *Server) HealthStatus() string {
	if s.IsHealthy() {
		return "running"
	}

	return s.Status().String()
}

// SetConnectCallback implements protocol.Server.
func (s *Server) SetConnectCallback(callback protocol.ConnectCallback) {
	s.callbackLock.Lock()
	defer s.callbackLock.Unlock()
	s.connectCallback = callback
}

// SetDisconnectCallback implements protocol.Server.
func (s *Server) SetDisconnectCallback(callback protocol.DisconnectCallback) {
	s.callbackLock.Lock()
	defer s.callbackLock.Unlock()
	s.disconnectCallback = callback
}

// SetMessageCallback implements protocol.Server.
func (s *Server) SetMessageCallback(callback protocol.MessageCallback) {
	s.callbackLock.Lock()
	defer s.callbackLock.Unlock()
	s.messageCallback = callback
}
