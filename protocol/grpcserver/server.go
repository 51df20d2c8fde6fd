// Package grpcserver is the gRPC protocol server.  The Gateway service is
// registered through a hand-built descriptor and framed with the JSON codec,
// which keeps the wire schema in gateway.proto purely documentary.
package grpcserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/stats"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/protoerror"
	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrAlreadyRunning = errors.New("the server is already running")
	ErrNotRunning     = errors.New("the server is not running")
	ErrUnknownClient  = errors.New("no connection exists with that client id")
)

// RequestHandler answers an Exchange call.  When nil, the server
// acknowledges each message with a generic response.
type RequestHandler func(ctx context.Context, message *wire.Message) (*wire.Message, error)

// Server is the gRPC protocol server.
type Server struct {
	logger  log.Logger
	auth    *auth.Manager
	devices *device.Manager

	address           string
	certificateFile   string
	keyFile           string
	keepaliveTime     time.Duration
	keepaliveTimeout  time.Duration
	maxMessageSize    int
	subscriberBacklog int

	stateLock  sync.Mutex
	status     protocol.Status
	grpcServer *grpc.Server
	listener   net.Listener

	connections *protocol.ConnectionTable

	subscriberLock sync.Mutex
	subscribers    map[string]chan *wire.Message

	handlerLock    sync.RWMutex
	requestHandler RequestHandler

	callbackLock       sync.RWMutex
	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback
}

var (
	_ protocol.Server = (*Server)(nil)
	_ gatewayService  = (*Server)(nil)
)

// New constructs a gRPC Server from a set of Options.
func New(o *Options) *Server {
	s := &Server{
		logger:            o.logger(),
		auth:              o.Auth,
		devices:           o.Devices,
		address:           o.address(),
		keepaliveTime:     o.keepaliveTime(),
		keepaliveTimeout:  o.keepaliveTimeout(),
		maxMessageSize:    o.maxMessageSize(),
		subscriberBacklog: o.subscriberBacklog(),
		connections:       protocol.NewConnectionTable(),
		subscribers:       make(map[string]chan *wire.Message),
		status:            protocol.StatusStopped,
	}

	if o != nil {
		s.certificateFile = o.CertificateFile
		s.keyFile = o.KeyFile
	}

	return s
}

// SetRequestHandler installs the Exchange handler.
func (s *Server) SetRequestHandler(handler RequestHandler) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	s.requestHandler = handler
}

// Start binds the listener and begins serving.
func (s *Server) Start(context.Context) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	if s.status == protocol.StatusRunning || s.status == protocol.StatusStarting {
		return ErrAlreadyRunning
	}

	s.status = protocol.StatusStarting
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.status = protocol.StatusError
		return err
	}

	options := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(s.maxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.keepaliveTime,
			Timeout: s.keepaliveTimeout,
		}),
		grpc.UnaryInterceptor(s.unaryAuthInterceptor),
		grpc.StreamInterceptor(s.streamAuthInterceptor),
		grpc.StatsHandler(&connectionTracker{server: s}),
	}

	if len(s.certificateFile) > 0 && len(s.keyFile) > 0 {
		tlsCredentials, err := credentials.NewServerTLSFromFile(s.certificateFile, s.keyFile)
		if err != nil {
			listener.Close()
			s.status = protocol.StatusError
			return err
		}

		options = append(options, grpc.Creds(tlsCredentials))
	}

	s.listener = listener
	s.grpcServer = grpc.NewServer(options...)
	s.grpcServer.RegisterService(&gatewayServiceDesc, s)

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "grpc server exited", logging.ErrorKey(), err)
			s.stateLock.Lock()
			if s.status == protocol.StatusRunning {
				s.status = protocol.StatusError
			}
			s.stateLock.Unlock()
		}
	}()

	s.status = protocol.StatusRunning
	s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "grpc server started", "address", listener.Addr().String())
	return nil
}

// Stop drains in-flight calls and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.stateLock.Lock()
	if s.status != protocol.StatusRunning {
		s.stateLock.Unlock()
		return ErrNotRunning
	}

	s.status = protocol.StatusStopping
	grpcServer := s.grpcServer
	s.stateLock.Unlock()

	s.subscriberLock.Lock()
	for id, subscriber := range s.subscribers {
		close(subscriber)
		delete(s.subscribers, id)
	}
	s.subscriberLock.Unlock()

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		grpcServer.Stop()
	}

	s.connections.Clear()
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

// Address returns the bound listener address.
func (s *Server) Address() string {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.address
}

// Config returns the server's current configuration.
func (s *Server) Config() map[string]string {
	config := map[string]string{
		"address":          s.address,
		"max_message_size": strconv.Itoa(s.maxMessageSize),
	}

	if len(s.certificateFile) > 0 {
		config["ssl_cert_path"] = s.certificateFile
		config["ssl_key_path"] = s.keyFile
	}

	return config
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

	if address, ok := config["address"]; ok {
		s.address = address
	}

	if size, ok := config["max_message_size"]; ok {
		parsed, _ := strconv.Atoi(size)
		s.maxMessageSize = parsed
	}

	if path, ok := config["ssl_cert_path"]; ok {
		s.certificateFile = path
	}

	if path, ok := config["ssl_key_path"]; ok {
		s.keyFile = path
	}

	return nil
}

// ValidateConfig tests a configuration without applying it.
func (s *Server) ValidateConfig(config map[string]string) error {
	if address, ok := config["address"]; ok {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return err
		}
	}

	if size, ok := config["max_message_size"]; ok {
		parsed, err := strconv.Atoi(size)
		if err != nil || parsed <= 0 {
			return errors.New("max_message_size must be a positive integer")
		}
	}

	return nil
}

// ActiveConnections returns snapshots of all live connections.
func (s *Server) ActiveConnections() []protocol.ConnectionInfo {
	return s.connections.List()
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.connections.Len()
}

// DisconnectClient is unsupported on gRPC: connections are owned by the
// transport and individual peers cannot be evicted without stopping it.
func (s *Server) DisconnectClient(clientID string) error {
	if _, ok := s.connections.Get(clientID); !ok {
		return ErrUnknownClient
	}

	return errors.New("grpc connections cannot be individually evicted")
}

// Protocol implements protocol.Server.
func (s *Server) Protocol() wire.Protocol { return wire.ProtocolGRPC }

// ProtocolName implements protocol.Server.
func (s *Server) ProtocolName() string { return "gRPC" }

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

// Authenticate implements the Gateway service.
func (s *Server) Authenticate(ctx context.Context, req *AuthRequest) (*AuthReply, error) {
	if len(req.Username) == 0 || len(req.Password) == 0 {
		return nil, statusError(protoerror.MissingRequiredField, "username and password are required")
	}

	result := s.auth.Authenticate(auth.Request{
		Username: req.Username,
		Password: req.Password,
	})

	if !result.Success {
		return nil, statusError(protoerror.AuthenticationFailed, result.ErrorMessage)
	}

	return &AuthReply{
		Success:   true,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.Unix(),
	}, nil
}

// Exchange implements the Gateway service.
func (s *Server) Exchange(ctx context.Context, message *wire.Message) (*wire.Message, error) {
	if err := message.Validate(); err != nil {
		return nil, statusError(protoerror.MessageFormatError, err.Error())
	}

	s.callbackLock.RLock()
	callback := s.messageCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(message.SenderID, message)
	}

	s.handlerLock.RLock()
	handler := s.requestHandler
	s.handlerLock.RUnlock()
	if handler != nil {
		return handler(ctx, message)
	}

	return message.Response(map[string]interface{}{"accepted": true}), nil
}

// ListDevices implements the Gateway service.
func (s *Server) ListDevices(ctx context.Context, req *ListDevicesRequest) (*ListDevicesReply, error) {
	if len(req.DeviceType) > 0 {
		return &ListDevicesReply{Devices: s.devices.FindByType(req.DeviceType)}, nil
	}

	return &ListDevicesReply{Devices: s.devices.List()}, nil
}

// ExecuteCommand implements the Gateway service.
func (s *Server) ExecuteCommand(ctx context.Context, req *CommandRequest) (*CommandReply, error) {
	if len(req.Command) == 0 {
		return nil, statusError(protoerror.MissingRequiredField, "command is required")
	}

	commandID, err := s.devices.Execute(req.DeviceID, req.Command, req.Parameters, "")
	if err != nil {
		return nil, statusError(protoerror.DeviceNotFound, "Device not found")
	}

	return &CommandReply{CommandID: commandID, DeviceID: req.DeviceID}, nil
}

// Subscribe implements the Gateway service.  The stream stays open until the
// client cancels or the server stops.
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	id := newSubscriberID()
	subscriber := make(chan *wire.Message, s.subscriberBacklog)

	s.subscriberLock.Lock()
	s.subscribers[id] = subscriber
	s.subscriberLock.Unlock()

	defer func() {
		s.subscriberLock.Lock()
		delete(s.subscribers, id)
		s.subscriberLock.Unlock()
	}()

	for {
		select {
		case message, ok := <-subscriber:
			if !ok {
				return nil
			}

			if len(req.Topic) > 0 && message.Topic != req.Topic {
				continue
			}

			if err := stream.SendMsg(message); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// Publish fans a message out to every subscriber.  Slow subscribers whose
// backlog is full are skipped.
func (s *Server) Publish(message *wire.Message) int {
	s.subscriberLock.Lock()
	defer s.subscriberLock.Unlock()

	delivered := 0
	for _, subscriber := range s.subscribers {
		select {
		case subscriber <- message:
			delivered++
		default:
		}
	}

	return delivered
}

func newSubscriberID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err)
	}

	return "grpc_" + hex.EncodeToString(raw[:])
}

// connectionTracker maintains the connection table from transport events.
type connectionTracker struct {
	server *Server
}

type connKey struct{}

var _ stats.Handler = (*connectionTracker)(nil)

func (t *connectionTracker) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	record := protocol.ConnectionInfo{
		ClientID:     newSubscriberID(),
		Protocol:     wire.ProtocolGRPC,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
	}

	if info.RemoteAddr != nil {
		host, port, _ := net.SplitHostPort(info.RemoteAddr.String())
		record.RemoteAddress = host
		record.RemotePort, _ = strconv.Atoi(port)
	}

	return context.WithValue(ctx, connKey{}, record)
}

func (t *connectionTracker) HandleConn(ctx context.Context, event stats.ConnStats) {
	record, ok := ctx.Value(connKey{}).(protocol.ConnectionInfo)
	if !ok {
		return
	}

	switch event.(type) {
	case *stats.ConnBegin:
		t.server.connections.Add(record)
		t.server.callbackLock.RLock()
		callback := t.server.connectCallback
		t.server.callbackLock.RUnlock()
		if callback != nil {
			callback(record)
		}

	case *stats.ConnEnd:
		if t.server.connections.Remove(record.ClientID) {
			t.server.callbackLock.RLock()
			callback := t.server.disconnectCallback
			t.server.callbackLock.RUnlock()
			if callback != nil {
				callback(record.ClientID)
			}
		}
	}
}

func (t *connectionTracker) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	return ctx
}

func (t *connectionTracker) HandleRPC(ctx context.Context, event stats.RPCStats) {
	if record, ok := ctx.Value(connKey{}).(protocol.ConnectionInfo); ok {
		t.server.connections.Touch(record.ClientID)
	}
}
