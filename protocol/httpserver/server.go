// Package httpserver is the HTTP and WebSocket protocol server.  It is the
// reference implementation of the protocol.Server interface: method-aware
// routing, an ordered middleware chain, and the REST device API.
package httpserver

import (
	"bufio"
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"
	"github.com/spf13/cast"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrAlreadyRunning = errors.New("the server is already running")
	ErrNotRunning     = errors.New("the server is not running")
	ErrUnknownClient  = errors.New("no connection exists with that client id")
)

// Server is the HTTP/WebSocket protocol server.
type Server struct {
	logger  log.Logger
	auth    *auth.Manager
	devices *device.Manager

	address          string
	certificateFile  string
	keyFile          string
	allowedOrigins   []string
	rateLimit        int
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	extra            map[string]string

	router   *mux.Router
	upgrader websocket.Upgrader

	stateLock  sync.Mutex
	status     protocol.Status
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time

	connections *protocol.ConnectionTable

	wsLock  sync.Mutex
	wsConns map[string]*wsConnection

	requests uint64
	errors   uint64

	callbackLock       sync.RWMutex
	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback
}

var _ protocol.Server = (*Server)(nil)

// New constructs an HTTP/WebSocket Server from a set of Options.
func New(o *Options) *Server {
	s := &Server{
		logger:           o.logger(),
		auth:             o.Auth,
		devices:          o.Devices,
		address:          o.address(),
		allowedOrigins:   o.allowedOrigins(),
		rateLimit:        o.rateLimit(),
		handshakeTimeout: o.handshakeTimeout(),
		writeTimeout:     o.writeTimeout(),
		connections:      protocol.NewConnectionTable(),
		wsConns:          make(map[string]*wsConnection),
		status:           protocol.StatusStopped,
	}

	if o != nil {
		s.certificateFile = o.CertificateFile
		s.keyFile = o.KeyFile
		s.extra = o.Extra
	}

	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: s.handshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter assembles the middleware chain and the method-aware routes.
// Middlewares run in registration order; a middleware that writes the
// response without calling its successor terminates the chain.
func (s *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()

	chain := alice.New(
		s.statsConstructor,
		NewCORSConstructor(s.allowedOrigins),
		NewLoggingConstructor(s.logger),
		NewRateLimitConstructor(s.rateLimit),
		NewAuthConstructor(s.auth),
	)

	router.Handle("/api/auth/login", chain.ThenFunc(s.handleLogin)).Methods(http.MethodPost)
	router.Handle("/api/auth/logout", chain.ThenFunc(s.handleLogout)).Methods(http.MethodPost)
	router.Handle("/api/devices", chain.ThenFunc(s.handleListDevices)).Methods(http.MethodGet)
	router.Handle("/api/devices/{id}", chain.ThenFunc(s.handleGetDevice)).Methods(http.MethodGet)
	router.Handle("/api/devices/{id}/commands", chain.ThenFunc(s.handleExecuteCommand)).Methods(http.MethodPost)
	router.Handle("/api/status", chain.ThenFunc(s.handleStatus)).Methods(http.MethodGet)
	router.Handle("/api/health", chain.ThenFunc(s.handleHealth)).Methods(http.MethodGet)
	router.Handle("/ws", chain.ThenFunc(s.handleWebSocket)).Methods(http.MethodGet)

	// requests whose method does not match a registered tuple are rejected
	router.MethodNotAllowedHandler = http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		WriteError(response, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.NotFoundHandler = http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		WriteError(response, http.StatusNotFound, "no such endpoint")
	})

	return router
}

// statsConstructor counts requests and error responses.
func (s *Server) statsConstructor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		atomic.AddUint64(&s.requests, 1)
		recorder := &statusRecorder{ResponseWriter: response, status: http.StatusOK}
		next.ServeHTTP(recorder, request)
		if recorder.status >= http.StatusBadRequest {
			atomic.AddUint64(&s.errors, 1)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack is required so the websocket upgrader can take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("the underlying response writer does not support hijacking")
	}

	return hijacker.Hijack()
}

// newServerLogger adapts a go-kit logger for use as an http.Server.ErrorLog.
func newServerLogger(logger log.Logger) *stdlog.Logger {
	return stdlog.New(log.NewStdlibAdapter(logger), "", stdlog.LstdFlags|stdlog.LUTC)
}

// Start binds the listener and begins serving.  Bind failures are returned
// synchronously.
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

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:  s.router,
		ErrorLog: newServerLogger(s.logger),
	}

	go func() {
		var serveErr error
		if len(s.certificateFile) > 0 && len(s.keyFile) > 0 {
			serveErr = s.httpServer.ServeTLS(listener, s.certificateFile, s.keyFile)
		} else {
			serveErr = s.httpServer.Serve(listener)
		}

		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "server exited", logging.ErrorKey(), serveErr)
			s.stateLock.Lock()
			s.status = protocol.StatusError
			s.stateLock.Unlock()
		}
	}()

	s.startedAt = time.Now()
	s.status = protocol.StatusRunning
	s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "http server started", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down, closing every websocket connection.
func (s *Server) Stop(ctx context.Context) error {
	s.stateLock.Lock()
	if s.status != protocol.StatusRunning {
		s.stateLock.Unlock()
		return ErrNotRunning
	}

	s.status = protocol.StatusStopping
	httpServer := s.httpServer
	s.stateLock.Unlock()

	s.wsLock.Lock()
	for _, wsConn := range s.wsConns {
		wsConn.close()
	}
	s.wsConns = make(map[string]*wsConnection)
	s.wsLock.Unlock()
	s.connections.Clear()

	err := httpServer.Shutdown(ctx)

	s.stateLock.Lock()
	s.status = protocol.StatusStopped
	s.stateLock.Unlock()
	return err
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

// Address returns the bound listener address, useful when the configured
// address uses an ephemeral port.
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
		"address":    s.address,
		"rate_limit": strconv.Itoa(s.rateLimit),
	}

	if len(s.certificateFile) > 0 {
		config["ssl_cert_path"] = s.certificateFile
		config["ssl_key_path"] = s.keyFile
	}

	for key, value := range s.extra {
		config[key] = value
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

	extra := make(map[string]string)
	for key, value := range config {
		switch key {
		case "address":
			s.address = value
		case "rate_limit":
			s.rateLimit = cast.ToInt(value)
		case "ssl_cert_path":
			s.certificateFile = value
		case "ssl_key_path":
			s.keyFile = value
		default:
			extra[key] = value
		}
	}

	s.extra = extra
	s.router = s.buildRouter()
	return nil
}

// ValidateConfig tests a configuration without applying it.
func (s *Server) ValidateConfig(config map[string]string) error {
	if address, ok := config["address"]; ok {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return err
		}
	}

	if limit, ok := config["rate_limit"]; ok {
		if cast.ToInt(limit) <= 0 {
			return errors.New("rate_limit must be a positive integer")
		}
	}

	return nil
}

// Requests returns the total number of requests served.
func (s *Server) Requests() uint64 {
	return atomic.LoadUint64(&s.requests)
}

// Errors returns the total number of error responses.
func (s *Server) Errors() uint64 {
	return atomic.LoadUint64(&s.errors)
}

// ActiveConnections returns snapshots of all live websocket connections.
func (s *Server) ActiveConnections() []protocol.ConnectionInfo {
	return s.connections.List()
}

// ConnectionCount returns the number of live websocket connections.
func (s *Server) ConnectionCount() int {
	return s.connections.Len()
}

// DisconnectClient forcibly closes one client's websocket connection.
func (s *Server) DisconnectClient(clientID string) error {
	s.wsLock.Lock()
	wsConn, ok := s.wsConns[clientID]
	s.wsLock.Unlock()

	if !ok {
		return ErrUnknownClient
	}

	wsConn.close()
	return nil
}

// Protocol implements protocol.Server.
func (s *Server) Protocol() wire.Protocol { return wire.ProtocolHTTP }

// ProtocolName implements protocol.Server.
func (s *Server) ProtocolName() string { return "HTTP/WebSocket" }

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

func (s *Server) fireConnect(info protocol.ConnectionInfo) {
	s.callbackLock.RLock()
	callback := s.connectCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(info)
	}
}

func (s *Server) fireDisconnect(clientID string) {
	s.callbackLock.RLock()
	callback := s.disconnectCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(clientID)
	}
}

func (s *Server) fireMessage(clientID string, message *wire.Message) {
	s.callbackLock.RLock()
	callback := s.messageCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(clientID, message)
	}
}
