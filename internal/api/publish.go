package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-mqttroute/internal/clients"
	"github.com/nerrad567/gray-logic-mqttroute/internal/topic"
)

// Payload encodings accepted by POST /publish.
const (
	EncodingJSON   = "json"
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Client   string          `json:"client"`
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
	Encoding string          `json:"encoding"`
	QoS      *int            `json:"qos"`
	Retained bool            `json:"retained"`
}

// decodePayload turns the request payload into the value handed to the
// client manager.
//
// With the json encoding (the default) the payload is decoded into a
// generic value and converted by the configured codec. text expects a
// JSON string sent verbatim, and base64 a JSON string of raw bytes.
func (req publishRequest) decodePayload() (any, error) {
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return nil, nil
	}

	switch req.Encoding {
	case "", EncodingJSON:
		var v any
		if err := json.Unmarshal(req.Payload, &v); err != nil {
			return nil, err
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return v, nil
	case EncodingText:
		var s string
		if err := json.Unmarshal(req.Payload, &s); err != nil {
			return nil, errors.New("text payload must be a JSON string")
		}
		return s, nil
	case EncodingBase64:
		var s string
		if err := json.Unmarshal(req.Payload, &s); err != nil {
			return nil, errors.New("base64 payload must be a JSON string")
		}
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, errors.New("encoding must be json, text or base64")
	}
}

// handlePublish sends a message through a managed client.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.clients == nil || s.clients.Disabled() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "mqtt is disabled")
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := topic.ValidateTopic(req.Topic); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.QoS != nil && (*req.QoS < 0 || *req.QoS > 2) {
		writeBadRequest(w, "qos must be 0, 1 or 2")
		return
	}

	payload, err := req.decodePayload()
	if err != nil {
		writeBadRequest(w, "invalid payload: "+err.Error())
		return
	}

	opts := []clients.PublishOption{clients.WithRetained(req.Retained)}
	if req.QoS != nil {
		opts = append(opts, clients.WithQoS(byte(*req.QoS)))
	}

	if err := s.clients.Publish(r.Context(), req.Client, req.Topic, payload, opts...); err != nil {
		s.writePublishError(w, err)
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	s.logger.Info("message published via API",
		"client", req.Client,
		"topic", req.Topic,
		"retained", req.Retained,
		"subject", subject,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "published",
		"topic":  req.Topic,
	})
}

func (s *Server) writePublishError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clients.ErrUnknownClient):
		writeNotFound(w, err.Error())
	case errors.Is(err, clients.ErrNoPayload):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "payload could not be converted to bytes")
	case errors.Is(err, clients.ErrDisabled), errors.Is(err, clients.ErrNotStarted), errors.Is(err, clients.ErrNoClients):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Warn("publish via API failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
