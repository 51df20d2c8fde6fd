package httpserver

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	headerServer    = "Hydrogen-Server/1.0"
	headerPoweredBy = "Hydrogen"
)

// writeHeaders stamps the response headers every endpoint carries.
func writeHeaders(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.Header().Set("Server", headerServer)
	response.Header().Set("X-Powered-By", headerPoweredBy)
}

// WriteJSON renders an arbitrary body with the standard headers.
func WriteJSON(response http.ResponseWriter, status int, body interface{}) {
	writeHeaders(response)
	response.WriteHeader(status)
	_ = json.NewEncoder(response).Encode(body)
}

// WriteSuccess renders the success envelope, with optional data.
func WriteSuccess(response http.ResponseWriter, data interface{}) {
	envelope := map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().Unix(),
	}

	if data != nil {
		envelope["data"] = data
	}

	WriteJSON(response, http.StatusOK, envelope)
}

// WriteError renders the error envelope.
func WriteError(response http.ResponseWriter, status int, message string) {
	WriteJSON(response, status, map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}
