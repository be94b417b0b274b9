package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tracklabs/toggl-mirror/backend/internal/mirror"
	"github.com/tracklabs/toggl-mirror/backend/internal/toggl"
	"go.uber.org/zap"
)

const (
	syncTriggerRange  = "range"
	syncTriggerRecent = "recent"
	syncTriggerFull   = "full"

	streamHeartbeatInterval = 30 * time.Second
)

type syncRangeRequestPayload struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type syncResponsePayload struct {
	OK            bool   `json:"ok"`
	RunID         string `json:"run_id"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	RecordsSynced int64  `json:"records_synced"`
	Chunks        int    `json:"chunks"`
}

func (h *httpHandler) handleSyncRange(c *gin.Context) {
	var request syncRangeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	startDate, err := time.Parse(time.DateOnly, request.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return
	}
	endDate, err := time.Parse(time.DateOnly, request.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return
	}

	result, err := h.mirror.SyncRange(c.Request.Context(), startDate, endDate)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}
	h.publishSyncEvent(syncTriggerRange, result)
	c.JSON(http.StatusOK, buildSyncResponse(result))
}

func (h *httpHandler) handleSyncRecent(c *gin.Context) {
	result, err := h.mirror.SyncRecent(c.Request.Context())
	if err != nil {
		h.respondSyncError(c, err)
		return
	}
	h.publishSyncEvent(syncTriggerRecent, result)
	c.JSON(http.StatusOK, buildSyncResponse(result))
}

func (h *httpHandler) handleSyncFull(c *gin.Context) {
	result, err := h.mirror.FullSync(c.Request.Context())
	if err != nil {
		h.respondSyncError(c, err)
		return
	}
	h.publishSyncEvent(syncTriggerFull, result)
	c.JSON(http.StatusOK, buildSyncResponse(result))
}

func buildSyncResponse(result mirror.SyncResult) syncResponsePayload {
	return syncResponsePayload{
		OK:            true,
		RunID:         result.RunID,
		StartDate:     result.StartDate.Format(time.DateOnly),
		EndDate:       result.EndDate.Format(time.DateOnly),
		RecordsSynced: result.RecordsSynced,
		Chunks:        result.Chunks,
	}
}

func (h *httpHandler) respondSyncError(c *gin.Context, err error) {
	var remoteErr *toggl.RemoteError
	switch {
	case errors.Is(err, mirror.ErrInvalidDateRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date_range"})
	case errors.As(err, &remoteErr):
		h.logger.Error("upstream fetch failed during sync",
			zap.Int("upstream_status", remoteErr.StatusCode),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote_source_failed"})
	default:
		h.logger.Error("sync run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
	}
}

func (h *httpHandler) publishSyncEvent(trigger string, result mirror.SyncResult) {
	h.events.Publish(SyncEvent{
		RunID:         result.RunID,
		Trigger:       trigger,
		StartDate:     result.StartDate,
		EndDate:       result.EndDate,
		RecordsSynced: result.RecordsSynced,
		Chunks:        result.Chunks,
		CompletedAt:   time.Now().UTC(),
	})
}

type currentEntryPayload struct {
	ID          int64    `json:"id"`
	WorkspaceID int64    `json:"workspace_id"`
	ProjectID   *int64   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	Stop        *string  `json:"stop"`
	Duration    int64    `json:"duration"`
	At          string   `json:"at"`
	TagIDs      []int64  `json:"tag_ids"`
	Tags        []string `json:"tags"`
}

func (h *httpHandler) handleCurrentEntry(c *gin.Context) {
	entry, err := h.mirror.CurrentEntry(c.Request.Context())
	if err != nil {
		var remoteErr *toggl.RemoteError
		if errors.As(err, &remoteErr) {
			h.logger.Error("upstream current-entry fetch failed",
				zap.Int("upstream_status", remoteErr.StatusCode),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "remote_source_failed"})
			return
		}
		h.logger.Error("current entry lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "current_entry_failed"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	tagIDs := entry.TagIDs
	if tagIDs == nil {
		tagIDs = []int64{}
	}
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, currentEntryPayload{
		ID:          entry.ID,
		WorkspaceID: entry.WorkspaceID,
		ProjectID:   entry.ProjectID,
		ProjectName: entry.ProjectName,
		Description: entry.Description,
		Start:       entry.Start,
		Stop:        entry.Stop,
		Duration:    entry.Duration,
		At:          entry.At,
		TagIDs:      tagIDs,
		Tags:        tags,
	})
}

type syncEventPayload struct {
	RunID         string `json:"run_id"`
	Trigger       string `json:"trigger"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	RecordsSynced int64  `json:"records_synced"`
	Chunks        int    `json:"chunks"`
	CompletedAt   string `json:"completed_at"`
}

func (h *httpHandler) handleSyncStream(c *gin.Context) {
	stream, cleanup := h.events.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(SyncEventCompleted, syncEventPayload{
				RunID:         event.RunID,
				Trigger:       event.Trigger,
				StartDate:     event.StartDate.Format(time.DateOnly),
				EndDate:       event.EndDate.Format(time.DateOnly),
				RecordsSynced: event.RecordsSynced,
				Chunks:        event.Chunks,
				CompletedAt:   event.CompletedAt.Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"source": streamSourceBackend})
			c.Writer.Flush()
		}
	}
}
