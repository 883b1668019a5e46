package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumeoagency/newsdesk/backend/internal/notify"
	"github.com/lumeoagency/newsdesk/backend/internal/realtime"
)

const (
	sseEventHeartbeat = "heartbeat"

	heartbeatInterval = 25 * time.Second
)

type ssePayload struct {
	RecordID  string    `json:"record_id,omitempty"`
	SourceID  string    `json:"source_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleEventStream serves the live notification channel over SSE. Clients
// that cannot hold the stream fall back to polling the list endpoint.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	claims := sessionClaims(c)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), claims.OperatorID)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent(sseEventHeartbeat, ssePayload{Timestamp: time.Now().UTC()})
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			c.SSEvent(sseEventHeartbeat, ssePayload{Timestamp: time.Now().UTC()})
			flusher.Flush()
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, ssePayload{
				RecordID:  message.RecordID,
				SourceID:  message.SourceID,
				Message:   message.Payload,
				Timestamp: message.Timestamp,
			})
			flusher.Flush()
		}
	}
}

// NotificationBroadcaster forwards created notification records onto the
// realtime dispatcher, giving live sessions their push-free delivery path.
type NotificationBroadcaster struct {
	Dispatcher *realtime.Dispatcher
}

// NotificationCreated publishes one record to its recipient's subscribers.
func (b NotificationBroadcaster) NotificationCreated(record notify.Record) {
	b.Dispatcher.Publish(realtime.Message{
		RecipientID: record.RecipientID,
		EventType:   realtime.EventNotificationCreated,
		SourceID:    record.SourceID,
		RecordID:    record.ID,
		Payload:     record.Message,
		Timestamp:   record.CreatedAt,
	})
}
