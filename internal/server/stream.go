package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ripplelabs/feedline/backend/internal/docstore"
	"go.uber.org/zap"
)

const (
	streamEventRecords   = "records"
	streamEventHeartbeat = "heartbeat"
	streamBufferSize     = 16
	heartbeatInterval    = 25 * time.Second
)

// handleOwnRecordsStream serves the authenticated user's own records as a
// server-sent-event stream. Each event carries the full, authoritative
// snapshot, so clients replace rather than merge. The standing query is
// released when the client disconnects.
func (h *httpHandler) handleOwnRecordsStream(c *gin.Context) {
	subject := c.GetString(subjectContextKey)
	if subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	snapshots := make(chan []docstore.Record, streamBufferSize)
	cancel, err := h.documents.SubscribeQuery(
		docstore.QuerySpec{OwnerID: subject},
		func(records []docstore.Record) {
			select {
			case snapshots <- records:
			default:
				// Slow consumer: drop this snapshot, the next change
				// delivers a fresh authoritative one.
			}
		},
	)
	if err != nil {
		h.logger.Error("own-records subscription failed",
			zap.String("subject", subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case snapshot := <-snapshots:
			payload := make([]recordPayload, 0, len(snapshot))
			for _, record := range snapshot {
				payload = append(payload, toRecordPayload(record))
			}
			c.SSEvent(streamEventRecords, payload)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, time.Now().UTC().Unix())
			c.Writer.Flush()
		}
	}
}
