// Package mqttserver bridges the gateway onto an external MQTT broker.
// Clients publish requests on hydrogen/request/<clientId> and receive
// replies on hydrogen/response/<clientId>; the bridge maintains a logical
// connection table keyed by the request topic's client id.
package mqttserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/protoerror"
	"github.com/hydrogen-io/hydrogen/wire"
)

var (
	ErrAlreadyRunning = errors.New("the bridge is already running")
	ErrNotRunning     = errors.New("the bridge is not running")
	ErrUnknownClient  = errors.New("no connection exists with that client id")
)

// Server is the MQTT protocol bridge.
type Server struct {
	logger log.Logger

	brokerURL      string
	clientID       string
	username       string
	password       string
	requestFilter  string
	responsePrefix string
	eventPrefix    string
	qos            wire.QOS
	keepAlive      time.Duration
	connectTimeout time.Duration
	sessionExpiry  time.Duration

	stateLock sync.Mutex
	status    protocol.Status
	client    mqtt.Client
	done      chan struct{}

	connections *protocol.ConnectionTable

	callbackLock       sync.RWMutex
	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback

	// newClient is replaceable for tests
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

var _ protocol.Server = (*Server)(nil)

// New constructs an MQTT bridge from a set of Options.
func New(o *Options) *Server {
	s := &Server{
		logger:         o.logger(),
		brokerURL:      o.brokerURL(),
		clientID:       o.clientID(),
		requestFilter:  o.requestFilter(),
		responsePrefix: o.responsePrefix(),
		eventPrefix:    o.eventPrefix(),
		qos:            o.qos(),
		keepAlive:      o.keepAlive(),
		connectTimeout: o.connectTimeout(),
		sessionExpiry:  o.sessionExpiry(),
		connections:    protocol.NewConnectionTable(),
		status:         protocol.StatusStopped,
		newClient:      mqtt.NewClient,
	}

	if o != nil {
		s.username = o.Username
		s.password = o.Password
	}

	return s
}

// Start connects to the broker and subscribes to the request filter.
func (s *Server) Start(context.Context) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	if s.status == protocol.StatusRunning || s.status == protocol.StatusStarting {
		return ErrAlreadyRunning
	}

	s.status = protocol.StatusStarting
	s.done = make(chan struct{})

	clientOptions := mqtt.NewClientOptions().
		AddBroker(s.brokerURL).
		SetClientID(s.clientID).
		SetKeepAlive(s.keepAlive).
		SetConnectTimeout(s.connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)

	if len(s.username) > 0 {
		clientOptions.SetUsername(s.username).SetPassword(s.password)
	}

	clientOptions.SetOnConnectHandler(func(client mqtt.Client) {
		// runs on initial connect and every reconnect, so the
		// subscription survives broker restarts
		token := client.Subscribe(s.requestFilter, byte(s.qos), s.onRequest)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "request subscription failed", logging.ErrorKey(), err)
			return
		}

		s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "subscribed to request filter", "filter", s.requestFilter)
	})

	clientOptions.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		s.logger.Log(level.Key(), level.WarnValue(), logging.MessageKey(), "broker connection lost", logging.ErrorKey(), err)
	})

	client := s.newClient(clientOptions)
	token := client.Connect()
	if !token.WaitTimeout(s.connectTimeout) {
		s.status = protocol.StatusError
		return fmt.Errorf("timed out connecting to broker at %s", s.brokerURL)
	}

	if err := token.Error(); err != nil {
		s.status = protocol.StatusError
		return err
	}

	s.client = client
	go s.expiryLoop(s.done)
	s.status = protocol.StatusRunning
	s.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "mqtt bridge started", "broker", s.brokerURL)
	return nil
}

// Stop disconnects from the broker.
func (s *Server) Stop(context.Context) error {
	s.stateLock.Lock()
	if s.status != protocol.StatusRunning {
		s.stateLock.Unlock()
		return ErrNotRunning
	}

	s.status = protocol.StatusStopping
	client := s.client
	close(s.done)
	s.stateLock.Unlock()

	client.Unsubscribe(s.requestFilter)
	client.Disconnect(uint(s.connectTimeout / time.Millisecond))
	s.connections.Clear()

	s.stateLock.Lock()
	s.status = protocol.StatusStopped
	s.stateLock.Unlock()
	return nil
}

// Restart stops and then starts the bridge.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil && err != ErrNotRunning {
		return err
	}

	return s.Start(ctx)
}

// Status returns the bridge's lifecycle state.
func (s *Server) Status() protocol.Status {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.status
}

// onRequest handles one inbound request publication.
func (s *Server) onRequest(client mqtt.Client, publication mqtt.Message) {
	clientID, ok := ClientFromTopic(publication.Topic())
	if !ok {
		s.logger.Log(level.Key(), level.DebugValue(), logging.MessageKey(), "discarding request on unexpected topic", "topic", publication.Topic())
		return
	}

	s.observe(clientID)
	message, err := wire.Decode(publication.Payload())
	if err != nil {
		s.respondError(clientID, "", protoerror.New(protoerror.MessageFormatError, err.Error()))
		return
	}

	message.SourceProtocol = wire.ProtocolMQTT
	if message.Type == wire.HeartbeatType {
		reply := wire.NewMessage(wire.HeartbeatType)
		reply.RecipientID = message.SenderID
		reply.CorrelationID = message.MessageID
		reply.Payload = map[string]interface{}{"timestamp": time.Now().UnixMilli()}
		_ = s.Respond(clientID, reply)
		return
	}

	s.callbackLock.RLock()
	callback := s.messageCallback
	s.callbackLock.RUnlock()
	if callback != nil {
		callback(clientID, message)
	}
}

// observe inserts or refreshes the logical connection for a client id.
func (s *Server) observe(clientID string) {
	if _, ok := s.connections.Get(clientID); ok {
		s.connections.Touch(clientID)
		return
	}

	info := protocol.ConnectionInfo{
		ClientID:     clientID,
		Protocol:     wire.ProtocolMQTT,
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

// expiryLoop evicts logical clients that have been silent past the expiry.
func (s *Server) expiryLoop(done <-chan struct{}) {
	ticker := time.NewTicker(s.sessionExpiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-s.sessionExpiry)
			for _, info := range s.connections.List() {
				if info.LastActivity.Before(cutoff) {
					s.evict(info.ClientID)
				}
			}

		case <-done:
			return
		}
	}
}

func (s *Server) evict(clientID string) {
	if s.connections.Remove(clientID) {
		s.callbackLock.RLock()
		callback := s.disconnectCallback
		s.callbackLock.RUnlock()
		if callback != nil {
			callback(clientID)
		}
	}
}

// Respond publishes a message on a client's response topic.
func (s *Server) Respond(clientID string, message *wire.Message) error {
	s.stateLock.Lock()
	client := s.client
	status := s.status
	s.stateLock.Unlock()

	if status != protocol.StatusRunning {
		return ErrNotRunning
	}

	message.TargetProtocol = wire.ProtocolMQTT
	data, err := message.Encode()
	if err != nil {
		return err
	}

	token := client.Publish(s.responsePrefix+clientID, byte(s.qos), false, data)
	token.Wait()
	return token.Error()
}

// respondError publishes an ERROR message carrying the taxonomy code and
// the MQTT reason code header.
func (s *Server) respondError(clientID, correlationID string, cause *protoerror.Error) {
	message := wire.NewMessage(wire.ErrorType)
	message.CorrelationID = correlationID
	if len(correlationID) == 0 {
		message.OriginalMessageID = message.MessageID
	}

	message.Headers = map[string]string{
		"mqttReason": fmt.Sprintf("0x%02X", protoerror.MQTTReason(cause.Code)),
	}

	message.Payload = map[string]interface{}{
		"code":    fmt.Sprintf("%d", int(cause.Code)),
		"message": cause.Message,
	}

	if err := s.Respond(clientID, message); err != nil {
		s.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "error response publish failed", logging.ErrorKey(), err)
	}
}

// PublishEvent publishes an event message under the event prefix.
func (s *Server) PublishEvent(topic string, message *wire.Message) error {
	s.stateLock.Lock()
	client := s.client
	status := s.status
	s.stateLock.Unlock()

	if status != protocol.StatusRunning {
		return ErrNotRunning
	}

	message.TargetProtocol = wire.ProtocolMQTT
	data, err := message.Encode()
	if err != nil {
		return err
	}

	token := client.Publish(s.eventPrefix+topic, byte(s.qos), false, data)
	token.Wait()
	return token.Error()
}

// ClientFromTopic extracts the logical client id from a request topic.  The
// id is the final topic level and may not itself contain separators.
func ClientFromTopic(topic string) (string, bool) {
	index := strings.LastIndex(topic, "/")
	if index < 0 || index == len(topic)-1 {
		return "", false
	}

	clientID := topic[index+1:]
	if strings.ContainsAny(clientID, "+#") {
		return "", false
	}

	return clientID, true
}

// Config returns the bridge's current configuration.
func (s *Server) Config() map[string]string {
	return map[string]string{
		"broker_url":      s.brokerURL,
		"client_id":       s.clientID,
		"request_filter":  s.requestFilter,
		"response_prefix": s.responsePrefix,
		"qos":             fmt.Sprintf("%d", int(s.qos)),
	}
}

// SetConfig replaces the bridge's configuration.  Only valid while stopped.
func (s *Server) SetConfig(config map[string]string) error {
	if err := s.ValidateConfig(config); err != nil {
		return err
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.status == protocol.StatusRunning || s.status == protocol.StatusStarting {
		return ErrAlreadyRunning
	}

	if value, ok := config["broker_url"]; ok {
		s.brokerURL = value
	}

	if value, ok := config["client_id"]; ok {
		s.clientID = value
	}

	if value, ok := config["request_filter"]; ok {
		s.requestFilter = value
	}

	if value, ok := config["response_prefix"]; ok {
		s.responsePrefix = value
	}

	if value, ok := config["qos"]; ok {
		s.qos = wire.QOS(value[0] - '0')
	}

	return nil
}

// ValidateConfig tests a configuration without applying it.
func (s *Server) ValidateConfig(config map[string]string) error {
	if value, ok := config["broker_url"]; ok {
		if !strings.Contains(value, "://") {
			return errors.New("broker_url must carry a scheme")
		}
	}

	if value, ok := config["qos"]; ok {
		if value != "0" && value != "1" && value != "2" {
			return errors.New("qos must be 0, 1, or 2")
		}
	}

	return nil
}

// ActiveConnections returns snapshots of all logical connections.
func (s *Server) ActiveConnections() []protocol.ConnectionInfo {
	return s.connections.List()
}

// ConnectionCount returns the number of logical connections.
func (s *Server) ConnectionCount() int {
	return s.connections.Len()
}

// DisconnectClient evicts one logical client.
func (s *Server) DisconnectClient(clientID string) error {
	if _, ok := s.connections.Get(clientID); !ok {
		return ErrUnknownClient
	}

	s.evict(clientID)
	return nil
}

// Protocol implements protocol.Server.
func (s *Server) Protocol() wire.Protocol { return wire.ProtocolMQTT }

// ProtocolName implements protocol.Server.
func (s *Server) ProtocolName() string { return "MQTT" }

// IsHealthy reports whether the bridge holds a live broker session.
func (s *Server) IsHealthy() bool {
	s.stateLock.Lock()
	client := s.client
	status := s.status
	s.stateLock.Unlock()

	return status == protocol.StatusRunning && client != nil && client.IsConnectionOpen()
}

// HealthStatus returns a human-readable health summary.
func (s *Server) HealthStatus() string {
	if s.IsHealthy() {
		return "running"
	}

	if s.Status() == protocol.StatusRunning {
		return "reconnecting"
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
