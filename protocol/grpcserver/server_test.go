package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/wire"
)

const (
	testUsername = "observer"
	testPassword = "Secret123!"
)

func newTestServer(t *testing.T) *Server {
	logger := logging.NewTestLogger(nil, t)
	authManager := auth.NewManager(&auth.Options{Logger: logger})
	_, err := authManager.CreateUser(testUsername, "observer@example.com", testPassword, auth.RoleOperator)
	require.NoError(t, err)

	s := New(&Options{
		Address: "127.0.0.1:0",
		Auth:    authManager,
		Devices: device.NewManager(&device.Options{Logger: logger}),
		Logger:  logger,
	})

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	return s
}

func dial(t *testing.T, s *Server) *grpc.ClientConn {
	conn, err := grpc.Dial(
		s.Address(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	)

	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func authenticate(t *testing.T, conn *grpc.ClientConn) string {
	reply := new(AuthReply)
	err := conn.Invoke(
		context.Background(),
		"/hydrogen.v1.Gateway/Authenticate",
		&AuthRequest{Username: testUsername, Password: testPassword},
		reply,
	)

	require.NoError(t, err)
	require.True(t, reply.Success)
	require.NotEmpty(t, reply.Token)
	return reply.Token
}

func authorized(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestAuthenticate(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)
	conn := dial(t, s)

	token := authenticate(t, conn)
	assert.NotEmpty(token)

	err := conn.Invoke(
		context.Background(),
		"/hydrogen.v1.Gateway/Authenticate",
		&AuthRequest{Username: testUsername, Password: "wrong"},
		new(AuthReply),
	)

	require.Error(t, err)
	assert.Equal(codes.Unauthenticated, status.Code(err))
	assert.Contains(status.Convert(err).Message(), "Invalid credentials")
}

func TestAuthorizationRequired(t *testing.T) {
	assert := assert.New(t)
	s := newTestServer(t)
	conn := dial(t, s)

	err := conn.Invoke(
		context.Background(),
		"/hydrogen.v1.Gateway/ListDevices",
		&ListDevicesRequest{},
		new(ListDevicesReply),
	)

	require.Error(t, err)
	assert.Equal(codes.Unauthenticated, status.Code(err))
}

func TestListDevices(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	conn := dial(t, s)
	token := authenticate(t, conn)

	require.NoError(s.devices.Register(device.Info{DeviceID: "camera-1", DeviceType: "camera", DeviceName: "Imager"}))
	require.NoError(s.devices.Register(device.Info{DeviceID: "mount-1", DeviceType: "mount", DeviceName: "Mount"}))

	reply := new(ListDevicesReply)
	require.NoError(conn.Invoke(authorized(token), "/hydrogen.v1.Gateway/ListDevices", &ListDevicesRequest{}, reply))
	assert.Len(reply.Devices, 2)

	reply = new(ListDevicesReply)
	require.NoError(conn.Invoke(authorized(token), "/hydrogen.v1.Gateway/ListDevices", &ListDevicesRequest{DeviceType: "camera"}, reply))
	require.Len(reply.Devices, 1)
	assert.Equal("camera-1", reply.Devices[0].DeviceID)
}

func TestExecuteCommand(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	conn := dial(t, s)
	token := authenticate(t, conn)

	require.NoError(s.devices.Register(device.Info{DeviceID: "focuser-1", DeviceType: "focuser", DeviceName: "Focuser"}))

	reply := new(CommandReply)
	require.NoError(conn.Invoke(
		authorized(token),
		"/hydrogen.v1.Gateway/ExecuteCommand",
		&CommandRequest{DeviceID: "focuser-1", Command: "move", Parameters: map[string]string{"position": "5000"}},
		reply,
	))

	assert.NotEmpty(reply.CommandID)
	assert.Equal("focuser-1", reply.DeviceID)

	err := conn.Invoke(
		authorized(token),
		"/hydrogen.v1.Gateway/ExecuteCommand",
		&CommandRequest{DeviceID: "no-such-device", Command: "move"},
		new(CommandReply),
	)

	require.Error(err)
	assert.Equal(codes.NotFound, status.Code(err))
}

func TestExchange(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	conn := dial(t, s)
	token := authenticate(t, conn)

	observed := make(chan *wire.Message, 1)
	s.SetMessageCallback(func(clientID string, message *wire.Message) {
		observed <- message
	})

	request := wire.NewMessage(wire.CommandType)
	request.SenderID = "client-1"
	request.Topic = "devices/camera-1/expose"

	reply := new(wire.Message)
	require.NoError(conn.Invoke(authorized(token), "/hydrogen.v1.Gateway/Exchange", request, reply))
	assert.Equal(wire.ResponseType, reply.Type)
	assert.Equal(request.MessageID, reply.CorrelationID)

	select {
	case message := <-observed:
		assert.Equal(request.MessageID, message.MessageID)
	case <-time.After(time.Second):
		t.Fatal("no message callback within the deadline")
	}
}

func TestSubscribe(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	s := newTestServer(t)
	conn := dial(t, s)
	token := authenticate(t, conn)

	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := conn.NewStream(authorized(token), desc, "/hydrogen.v1.Gateway/Subscribe")
	require.NoError(err)
	require.NoError(stream.SendMsg(&SubscribeRequest{Topic: "devices/camera-1/status"}))
	require.NoError(stream.CloseSend())

	require.Eventually(func() bool { return s.Publish(wire.NewMessage(wire.EventType)) == 1 }, time.Second, 10*time.Millisecond)

	matching := wire.NewMessage(wire.EventType)
	matching.Topic = "devices/camera-1/status"
	s.Publish(matching)

	other := wire.NewMessage(wire.EventType)
	other.Topic = "devices/mount-1/status"
	s.Publish(other)

	received := new(wire.Message)
	require.NoError(stream.RecvMsg(received))
	assert.Equal(matching.MessageID, received.MessageID)
}
