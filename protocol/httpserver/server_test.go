package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/wire"
)

const (
	testUsername = "observer"
	testPassword = "Secret123!"
)

func newTestServer(t *testing.T, o *Options) (*Server, *httptest.Server) {
	if o == nil {
		o = new(Options)
	}

	if o.Logger == nil {
		o.Logger = logging.NewTestLogger(nil, t)
	}

	if o.Auth == nil {
		o.Auth = auth.NewManager(&auth.Options{Logger: o.Logger})
	}

	if o.Devices == nil {
		o.Devices = device.NewManager(&device.Options{Logger: o.Logger})
	}

	_, err := o.Auth.CreateUser(testUsername, "observer@example.com", testPassword, auth.RoleOperator)
	require.NoError(t, err)

	s := New(o)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

func login(t *testing.T, ts *httptest.Server) string {
	body, _ := json.Marshal(map[string]string{"username": testUsername, "password": testPassword})
	response, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	var envelope struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}

	require.NoError(t, json.NewDecoder(response.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NotEmpty(t, envelope.Token)
	return envelope.Token
}

func TestLoginSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"username": testUsername, "password": testPassword})
	response, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(err)
	defer response.Body.Close()

	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal("application/json", response.Header.Get("Content-Type"))
	assert.Equal("Hydrogen-Server/1.0", response.Header.Get("Server"))
	assert.Equal("Hydrogen", response.Header.Get("X-Powered-By"))

	var envelope map[string]interface{}
	require.NoError(json.NewDecoder(response.Body).Decode(&envelope))
	assert.Equal(true, envelope["success"])
	assert.NotEmpty(envelope["token"])
	assert.NotNil(envelope["expiresAt"])

	user, ok := envelope["user"].(map[string]interface{})
	require.True(ok)
	assert.Equal(testUsername, user["username"])
	assert.Equal(float64(auth.RoleOperator), user["role"])
}

func TestLoginBadCredentials(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"username": testUsername, "password": "wrong"})
	response, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(err)
	defer response.Body.Close()

	assert.Equal(http.StatusUnauthorized, response.StatusCode)

	var envelope map[string]interface{}
	require.NoError(json.NewDecoder(response.Body).Decode(&envelope))
	assert.Equal("Invalid credentials", envelope["error"])
	assert.Equal(float64(http.StatusUnauthorized), envelope["status"])
	assert.NotNil(envelope["timestamp"])
}

func TestAuthRequired(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	response, err := http.Get(ts.URL + "/api/devices")
	require.NoError(err)
	response.Body.Close()
	assert.Equal(http.StatusUnauthorized, response.StatusCode)

	request, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/devices", nil)
	request.Header.Set("Authorization", "Bearer nonsense")
	response, err = http.DefaultClient.Do(request)
	require.NoError(err)
	response.Body.Close()
	assert.Equal(http.StatusUnauthorized, response.StatusCode)
}

func TestDeviceEndpoints(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	require.NoError(s.devices.Register(device.Info{
		DeviceID:   "camera-1",
		DeviceType: "camera",
		DeviceName: "Main Imager",
	}))

	token := login(t, ts)

	request, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/devices", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	require.NoError(err)

	// the list body is a bare array, not an envelope
	var list []device.Info
	require.NoError(json.NewDecoder(response.Body).Decode(&list))
	response.Body.Close()
	require.Len(list, 1)
	assert.Equal("camera-1", list[0].DeviceID)

	request, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/devices/camera-1", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err = http.DefaultClient.Do(request)
	require.NoError(err)

	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	require.NoError(err)

	var detail device.Info
	require.NoError(json.Unmarshal(body, &detail))
	assert.Equal("camera", detail.DeviceType)

	// the properties key is present even when no properties are set
	var raw map[string]json.RawMessage
	require.NoError(json.Unmarshal(body, &raw))
	assert.Contains(raw, "properties")

	request, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/devices/no-such-device", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err = http.DefaultClient.Do(request)
	require.NoError(err)

	var missing map[string]interface{}
	require.NoError(json.NewDecoder(response.Body).Decode(&missing))
	response.Body.Close()
	assert.Equal(http.StatusNotFound, response.StatusCode)
	assert.Equal("Device not found", missing["error"])
}

func TestExecuteCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	require.NoError(s.devices.Register(device.Info{DeviceID: "mount-1", DeviceType: "mount", DeviceName: "Mount"}))
	token := login(t, ts)

	body, _ := json.Marshal(map[string]interface{}{
		"command":    "slew",
		"parameters": map[string]string{"ra": "5.5", "dec": "-1.2"},
	})

	request, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/devices/mount-1/commands", bytes.NewReader(body))
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	require.NoError(err)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			CommandID string `json:"commandId"`
			DeviceID  string `json:"deviceId"`
		} `json:"data"`
	}

	require.NoError(json.NewDecoder(response.Body).Decode(&envelope))
	response.Body.Close()
	assert.True(envelope.Success)
	assert.True(strings.HasPrefix(envelope.Data.CommandID, "cmd_"))
	assert.Len(envelope.Data.CommandID, len("cmd_")+8)
	assert.Equal("mount-1", envelope.Data.DeviceID)
}

func TestOpenEndpoints(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	response, err := http.Get(ts.URL + "/api/status")
	require.NoError(err)

	var status map[string]interface{}
	require.NoError(json.NewDecoder(response.Body).Decode(&status))
	response.Body.Close()
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal("running", status["status"])
	assert.Contains(status, "uptime")
	assert.Contains(status, "connections")
	assert.Contains(status, "requests")
	assert.Contains(status, "errors")

	response, err = http.Get(ts.URL + "/api/health")
	require.NoError(err)

	var health map[string]interface{}
	require.NoError(json.NewDecoder(response.Body).Decode(&health))
	response.Body.Close()
	assert.Contains(health, "healthy")
	assert.Contains(health, "status")
	assert.Contains(health, "timestamp")
}

func TestMethodNotAllowed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	request, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/devices", nil)
	response, err := http.DefaultClient.Do(request)
	require.NoError(err)
	response.Body.Close()
	assert.Equal(http.StatusMethodNotAllowed, response.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, nil)

	request, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/devices", nil)
	response, err := http.DefaultClient.Do(request)
	require.NoError(err)
	response.Body.Close()
	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal("*", response.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(response.Header.Get("Access-Control-Allow-Methods"))
}

func TestRateLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, ts := newTestServer(t, &Options{RateLimit: 3})

	var last int
	for i := 0; i < 4; i++ {
		response, err := http.Get(ts.URL + "/api/health")
		require.NoError(err)
		response.Body.Close()
		last = response.StatusCode
	}

	assert.Equal(http.StatusTooManyRequests, last)
}

func TestRequestCounters(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	response, err := http.Get(ts.URL + "/api/health")
	require.NoError(err)
	response.Body.Close()

	response, err = http.Get(ts.URL + "/api/devices")
	require.NoError(err)
	response.Body.Close()

	assert.Equal(uint64(2), s.Requests())
	assert.Equal(uint64(1), s.Errors())
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWebSocket(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHeartbeat(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)
	token := login(t, ts)
	conn := dialWebSocket(t, ts, token)

	require.Eventually(func() bool { return s.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	connections := s.ActiveConnections()
	require.Len(connections, 1)
	assert.True(strings.HasPrefix(connections[0].ClientID, "ws_"))
	assert.Len(connections[0].ClientID, len("ws_")+16)

	heartbeat := wire.NewMessage(wire.HeartbeatType)
	data, err := heartbeat.Encode()
	require.NoError(err)
	require.NoError(conn.WriteMessage(websocket.TextMessage, data))

	require.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, replyData, err := conn.ReadMessage()
	require.NoError(err)

	reply, err := wire.Decode(replyData)
	require.NoError(err)
	assert.Equal(wire.HeartbeatType, reply.Type)
	assert.Equal(heartbeat.MessageID, reply.CorrelationID)

	payload, ok := reply.Payload.(map[string]interface{})
	require.True(ok)
	assert.Contains(payload, "timestamp")
}

func TestWebSocketDiscovery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	require.NoError(s.devices.Register(device.Info{DeviceID: "mount-1", DeviceType: "mount", DeviceName: "Mount"}))
	require.NoError(s.devices.Register(device.Info{DeviceID: "ccd-1", DeviceType: "camera", DeviceName: "Camera"}))

	token := login(t, ts)
	conn := dialWebSocket(t, ts, token)

	discovery := wire.NewMessage(wire.DiscoveryRequestType)
	discovery.Headers = map[string]string{"deviceType": "camera"}
	data, err := discovery.Encode()
	require.NoError(err)
	require.NoError(conn.WriteMessage(websocket.TextMessage, data))

	require.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, replyData, err := conn.ReadMessage()
	require.NoError(err)

	reply, err := wire.Decode(replyData)
	require.NoError(err)
	assert.Equal(wire.ResponseType, reply.Type)
	assert.Equal(discovery.MessageID, reply.CorrelationID)

	payload, ok := reply.Payload.(map[string]interface{})
	require.True(ok)
	devices, ok := payload["devices"].([]interface{})
	require.True(ok)
	require.Len(devices, 1)
	summary, ok := devices[0].(map[string]interface{})
	require.True(ok)
	assert.Equal("ccd-1", summary["deviceId"])
}

func TestWebSocketMessageCallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	received := make(chan *wire.Message, 1)
	s.SetMessageCallback(func(clientID string, message *wire.Message) {
		received <- message
	})

	token := login(t, ts)
	conn := dialWebSocket(t, ts, token)

	command := wire.NewMessage(wire.CommandType)
	command.Topic = "devices/camera-1/expose"
	data, err := command.Encode()
	require.NoError(err)
	require.NoError(conn.WriteMessage(websocket.TextMessage, data))

	select {
	case message := <-received:
		assert.Equal(command.MessageID, message.MessageID)
		assert.Equal("devices/camera-1/expose", message.Topic)
	case <-time.After(time.Second):
		t.Fatal("no message callback within the deadline")
	}
}

func TestDisconnectClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, ts := newTestServer(t, nil)

	disconnected := make(chan string, 1)
	s.SetDisconnectCallback(func(clientID string) {
		disconnected <- clientID
	})

	token := login(t, ts)
	dialWebSocket(t, ts, token)

	require.Eventually(func() bool { return s.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	clientID := s.ActiveConnections()[0].ClientID
	require.NoError(s.DisconnectClient(clientID))

	select {
	case id := <-disconnected:
		assert.Equal(clientID, id)
	case <-time.After(time.Second):
		t.Fatal("no disconnect callback within the deadline")
	}

	assert.Equal(ErrUnknownClient, s.DisconnectClient("ws_0000000000000000"))
}

func TestConfigRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s, _ := newTestServer(t, &Options{Extra: map[string]string{"custom_key": "custom_value"}})

	config := s.Config()
	assert.Equal(DefaultAddress, config["address"])
	assert.Equal("custom_value", config["custom_key"])

	require.NoError(s.SetConfig(map[string]string{"address": "127.0.0.1:9090", "rate_limit": "5"}))
	assert.Equal("127.0.0.1:9090", s.Config()["address"])

	assert.Error(s.ValidateConfig(map[string]string{"address": "not an address"}))
	assert.Error(s.ValidateConfig(map[string]string{"rate_limit": "-1"}))
}
