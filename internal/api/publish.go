package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/mqtt-connector/internal/audit"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
)

// maxPublishQoS is the highest QoS accepted by POST /publish.
const maxPublishQoS = 2

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     int    `json:"qos"`
}

// handlePublish hands a message to the bridge. The bridge reports the
// outcome in its log only, so a well-formed request is always accepted.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := mqtt.ValidateTopic(req.Topic); err != nil {
		writeError(w, ErrCodeValidation, err.Error())
		return
	}
	if req.QoS < 0 || req.QoS > maxPublishQoS {
		writeError(w, ErrCodeValidation, "qos must be 0, 1 or 2")
		return
	}

	s.bridge.Publish(req.Topic, []byte(req.Payload), byte(req.QoS))
	s.record(r, audit.ActionPublish, audit.EntityTopic, req.Topic, map[string]any{
		"qos":   req.QoS,
		"bytes": len(req.Payload),
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"topic":     req.Topic,
		"connected": s.bridge.IsConnected(),
	})
}
