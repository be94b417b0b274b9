package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tracklabs/toggl-mirror/backend/internal/auth"
	"github.com/tracklabs/toggl-mirror/backend/internal/entries"
	"github.com/tracklabs/toggl-mirror/backend/internal/mirror"
	"github.com/tracklabs/toggl-mirror/backend/internal/toggl"
	"go.uber.org/zap"
)

var (
	errMissingEntriesService = errors.New("entries service dependency required")
	errMissingMirrorService  = errors.New("mirror service dependency required")
)

type EntriesService interface {
	QueryWindow(ctx context.Context, windowStart, windowEnd time.Time) ([]entries.TimeEntry, error)
	CreateNote(ctx context.Context, entryID entries.EntryID, noteText string) (entries.EntryNote, error)
	DeleteNote(ctx context.Context, noteID entries.NoteID) error
}

type MirrorService interface {
	SyncRange(ctx context.Context, startDate, endDate time.Time) (mirror.SyncResult, error)
	SyncRecent(ctx context.Context) (mirror.SyncResult, error)
	FullSync(ctx context.Context) (mirror.SyncResult, error)
	CurrentEntry(ctx context.Context) (*toggl.CurrentEntry, error)
}

type AccessGuard interface {
	Enabled() bool
	Authorize(r *http.Request) error
}

type Dependencies struct {
	Entries EntriesService
	Mirror  MirrorService
	Guard   AccessGuard
	Events  *SyncEventDispatcher
	Logger  *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Entries == nil {
		return nil, errMissingEntriesService
	}
	if deps.Mirror == nil {
		return nil, errMissingMirrorService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewSyncEventDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Content-Type",
			auth.HeaderAccessClientID,
			auth.HeaderAccessClientSecret,
			auth.HeaderAccessAssertion,
		},
		MaxAge: 12 * time.Hour,
	}))

	handler := &httpHandler{
		entries: deps.Entries,
		mirror:  deps.Mirror,
		guard:   deps.Guard,
		events:  events,
		logger:  logger,
	}
	router.Use(handler.authorizeRequest)

	router.GET("/time_entries", handler.handleQueryWindow)
	router.POST("/notes", handler.handleCreateNote)
	router.DELETE("/notes/:note_id", handler.handleDeleteNote)

	syncRoutes := router.Group("/sync")
	syncRoutes.POST("/range", handler.handleSyncRange)
	syncRoutes.POST("/recent", handler.handleSyncRecent)
	syncRoutes.POST("/full", handler.handleSyncFull)
	syncRoutes.GET("/current", handler.handleCurrentEntry)
	syncRoutes.GET("/stream", handler.handleSyncStream)

	return router, nil
}

type httpHandler struct {
	entries EntriesService
	mirror  MirrorService
	guard   AccessGuard
	events  *SyncEventDispatcher
	logger  *zap.Logger
}

type notePayload struct {
	ID        int64  `json:"id"`
	NoteText  string `json:"note_text"`
	CreatedAt string `json:"created_at"`
}

type timeEntryPayload struct {
	EntryID     int64         `json:"entry_id"`
	Description string        `json:"description"`
	ProjectID   int64         `json:"project_id"`
	ProjectName string        `json:"project_name"`
	Seconds     int64         `json:"seconds"`
	Start       string        `json:"start"`
	Stop        *string       `json:"stop"`
	StartTS     int64         `json:"start_ts"`
	StopTS      *int64        `json:"stop_ts"`
	TagIDs      string        `json:"tag_ids"`
	TagNames    string        `json:"tag_names"`
	At          string        `json:"at"`
	AtTS        int64         `json:"at_ts"`
	Notes       []notePayload `json:"notes"`
}

func (h *httpHandler) handleQueryWindow(c *gin.Context) {
	windowStart, err := entries.ParseInstant(c.Query("start_iso"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_instant"})
		return
	}
	windowEnd, err := entries.ParseInstant(c.Query("end_iso"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_instant"})
		return
	}

	results, err := h.entries.QueryWindow(c.Request.Context(), windowStart, windowEnd)
	if err != nil {
		if errors.Is(err, entries.ErrInvalidWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window"})
			return
		}
		h.logger.Error("failed to query time entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}

	response := make([]timeEntryPayload, 0, len(results))
	for _, entry := range results {
		response = append(response, buildTimeEntryPayload(entry))
	}
	c.JSON(http.StatusOK, response)
}

func buildTimeEntryPayload(entry entries.TimeEntry) timeEntryPayload {
	entryNotes := make([]notePayload, 0, len(entry.Notes))
	for _, note := range entry.Notes {
		entryNotes = append(entryNotes, notePayload{
			ID:        note.ID,
			NoteText:  note.NoteText,
			CreatedAt: note.CreatedAt,
		})
	}
	return timeEntryPayload{
		EntryID:     entry.EntryID,
		Description: entry.Description,
		ProjectID:   entry.ProjectID,
		ProjectName: entry.ProjectName,
		Seconds:     entry.Seconds,
		Start:       entry.Start,
		Stop:        entry.Stop,
		StartTS:     entry.StartTS,
		StopTS:      entry.StopTS,
		TagIDs:      entry.TagIDs,
		TagNames:    entry.TagNames,
		At:          entry.At,
		AtTS:        entry.AtTS,
		Notes:       entryNotes,
	}
}

type createNoteRequestPayload struct {
	EntryID  int64  `json:"entry_id"`
	NoteText string `json:"note_text"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.NoteText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	entryID, err := entries.NewEntryID(request.EntryID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.entries.CreateNote(c.Request.Context(), entryID, request.NoteText)
	if err != nil {
		h.logger.Error("failed to create note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note_create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Note added", "note_id": note.ID})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	rawNoteID, err := strconv.ParseInt(c.Param("note_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	noteID, err := entries.NewNoteID(rawNoteID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	if err := h.entries.DeleteNote(c.Request.Context(), noteID); err != nil {
		if errors.Is(err, entries.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
			return
		}
		h.logger.Error("failed to delete note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note_delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Note deleted"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if h.guard == nil || !h.guard.Enabled() {
		c.Next()
		return
	}
	if err := h.guard.Authorize(c.Request); err != nil {
		status := http.StatusForbidden
		code := "forbidden"
		if auth.IsMissingCredential(err) {
			status = http.StatusUnauthorized
			code = "unauthorized"
		}
		h.logger.Warn("request failed access check", zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}
	c.Next()
}
