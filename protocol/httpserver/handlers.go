package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hydrogen-io/hydrogen/auth"
)

// handleLogin authenticates a username and password and issues a bearer
// token.  Credential failures return 401 with an opaque message.
func (s *Server) handleLogin(response http.ResponseWriter, request *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		WriteError(response, http.StatusBadRequest, "malformed request body")
		return
	}

	if len(body.Username) == 0 || len(body.Password) == 0 {
		WriteError(response, http.StatusBadRequest, "username and password are required")
		return
	}

	result := s.auth.Authenticate(auth.Request{
		Username:      body.Username,
		Password:      body.Password,
		RemoteAddress: clientAddress(request),
	})

	if !result.Success {
		WriteError(response, http.StatusUnauthorized, result.ErrorMessage)
		return
	}

	WriteJSON(response, http.StatusOK, map[string]interface{}{
		"success":   true,
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Unix(),
		"user": map[string]interface{}{
			"userId":   result.User.UserID,
			"username": result.User.Username,
			"role":     int(result.User.Role),
		},
	})
}

// handleLogout revokes the caller's token and ends its session.
func (s *Server) handleLogout(response http.ResponseWriter, request *http.Request) {
	token, ok := bearerToken(request)
	if !ok {
		WriteError(response, http.StatusUnauthorized, "Missing or malformed Authorization header")
		return
	}

	s.auth.Logout(token)
	WriteSuccess(response, nil)
}

// handleListDevices returns every registered device as a bare array.
func (s *Server) handleListDevices(response http.ResponseWriter, request *http.Request) {
	WriteJSON(response, http.StatusOK, s.devices.List())
}

// handleGetDevice returns one device by id as a bare object.
func (s *Server) handleGetDevice(response http.ResponseWriter, request *http.Request) {
	deviceID := mux.Vars(request)["id"]
	info, ok := s.devices.Get(deviceID)
	if !ok {
		WriteError(response, http.StatusNotFound, "Device not found")
		return
	}

	WriteJSON(response, http.StatusOK, info)
}

// handleExecuteCommand submits a command to a device and returns the
// assigned command id.  Execution is asynchronous.
func (s *Server) handleExecuteCommand(response http.ResponseWriter, request *http.Request) {
	deviceID := mux.Vars(request)["id"]

	var body struct {
		Command    string            `json:"command"`
		Parameters map[string]string `json:"parameters"`
	}

	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		WriteError(response, http.StatusBadRequest, "malformed request body")
		return
	}

	if len(body.Command) == 0 {
		WriteError(response, http.StatusBadRequest, "command is required")
		return
	}

	var clientID string
	if user, ok := UserFromContext(request.Context()); ok {
		clientID = user.UserID
	}

	commandID, err := s.devices.Execute(deviceID, body.Command, body.Parameters, clientID)
	if err != nil {
		WriteError(response, http.StatusNotFound, err.Error())
		return
	}

	WriteSuccess(response, map[string]interface{}{
		"commandId": commandID,
		"deviceId":  deviceID,
	})
}

// handleStatus reports server counters.  Reachable without a token.
func (s *Server) handleStatus(response http.ResponseWriter, request *http.Request) {
	s.stateLock.Lock()
	startedAt := s.startedAt
	s.stateLock.Unlock()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	WriteJSON(response, http.StatusOK, map[string]interface{}{
		"status":      "running",
		"uptime":      uptime,
		"connections": s.connections.Len(),
		"requests":    s.Requests(),
		"errors":      s.Errors(),
	})
}

// handleHealth is the liveness probe.  Reachable without a token.
func (s *Server) handleHealth(response http.ResponseWriter, request *http.Request) {
	WriteJSON(response, http.StatusOK, map[string]interface{}{
		"healthy":   s.IsHealthy(),
		"status":    s.HealthStatus(),
		"timestamp": time.Now().Unix(),
	})
}
