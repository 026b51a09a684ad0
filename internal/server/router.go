package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/activity"
	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/session"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	realtimeEventSnapshot    = "snapshot"
)

var (
	errMissingSession    = errors.New("session dependency required")
	errMissingDispatcher = errors.New("realtime dispatcher dependency required")
)

type Dependencies struct {
	Session           *session.Session
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Session == nil {
		return nil, errMissingSession
	}
	if deps.Realtime == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		session:   deps.Session,
		realtime:  deps.Realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/session", handler.handleSession)
	router.GET("/users", handler.handleUsers)

	router.GET("/document", handler.handleDocument)
	router.PUT("/document", handler.handleDocumentEdit)
	router.PUT("/document/name", handler.handleDocumentRename)
	router.POST("/document/cursor", handler.handleCursor)
	router.POST("/document/undo", handler.handleUndo)
	router.POST("/document/redo", handler.handleRedo)
	router.GET("/document/history", handler.handleHistory)

	router.GET("/chat", handler.handleChatList)
	router.POST("/chat", handler.handleChatSend)
	router.POST("/chat/read", handler.handleChatRead)

	router.GET("/logs", handler.handleLogs)
	router.GET("/logs/export", handler.handleLogsExport)
	router.POST("/logs/filters/:type", handler.handleToggleFilter)
	router.DELETE("/logs/filters", handler.handleClearFilters)

	router.PUT("/network/lag", handler.handleLag)
	router.PUT("/network/connection", handler.handleConnection)

	router.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	session   *session.Session
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

type sessionResponsePayload struct {
	Stats    session.Stats   `json:"stats"`
	Users    []users.User    `json:"users"`
	Document editor.Document `json:"document"`
	Cursors  []editor.Cursor `json:"cursors"`
}

type documentResponsePayload struct {
	Document editor.Document `json:"document"`
	Cursors  []editor.Cursor `json:"cursors"`
}

type editRequestPayload struct {
	Text *string `json:"text"`
}

type renameRequestPayload struct {
	Name string `json:"name"`
}

type historyResponsePayload struct {
	Document editor.Document `json:"document"`
	Applied  bool            `json:"applied"`
}

type historyStacksPayload struct {
	Undo []editor.Snapshot `json:"undo"`
	Redo []editor.Snapshot `json:"redo"`
}

type chatRequestPayload struct {
	Content string `json:"content"`
}

type lagRequestPayload struct {
	LagMS *int `json:"lag_ms"`
}

type connectionRequestPayload struct {
	Connected *bool `json:"connected"`
}

type filterResponsePayload struct {
	Type    activity.EntryType   `json:"type"`
	Active  bool                 `json:"active"`
	Filters []activity.EntryType `json:"filters"`
}

func (h *httpHandler) snapshot() sessionResponsePayload {
	return sessionResponsePayload{
		Stats:    h.session.Stats(),
		Users:    h.session.Users(),
		Document: h.session.Document(),
		Cursors:  h.session.Cursors(),
	}
}

func (h *httpHandler) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

func (h *httpHandler) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.session.Users()})
}

func (h *httpHandler) handleDocument(c *gin.Context) {
	c.JSON(http.StatusOK, documentResponsePayload{
		Document: h.session.Document(),
		Cursors:  h.session.Cursors(),
	})
}

func (h *httpHandler) handleDocumentEdit(c *gin.Context) {
	var request editRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document := h.session.Edit(c.Request.Context(), *request.Text)
	c.JSON(http.StatusOK, documentResponsePayload{
		Document: document,
		Cursors:  h.session.Cursors(),
	})
}

func (h *httpHandler) handleDocumentRename(c *gin.Context) {
	var request renameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, err := h.session.RenameDocument(request.Name)
	if err != nil {
		if errors.Is(err, session.ErrEmptyDocumentName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_name"})
			return
		}
		h.logger.Error("document rename rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename_failed"})
		return
	}
	c.JSON(http.StatusOK, documentResponsePayload{
		Document: document,
		Cursors:  h.session.Cursors(),
	})
}

func (h *httpHandler) handleCursor(c *gin.Context) {
	var request editor.Position
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursor": h.session.MoveCursor(request)})
}

func (h *httpHandler) handleUndo(c *gin.Context) {
	document, applied := h.session.Undo(c.Request.Context())
	c.JSON(http.StatusOK, historyResponsePayload{Document: document, Applied: applied})
}

func (h *httpHandler) handleRedo(c *gin.Context) {
	document, applied := h.session.Redo(c.Request.Context())
	c.JSON(http.StatusOK, historyResponsePayload{Document: document, Applied: applied})
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	undo, redo := h.session.History()
	if undo == nil {
		undo = []editor.Snapshot{}
	}
	if redo == nil {
		redo = []editor.Snapshot{}
	}
	c.JSON(http.StatusOK, historyStacksPayload{Undo: undo, Redo: redo})
}

func (h *httpHandler) handleChatList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages": h.session.Messages(),
		"unread":   h.session.Stats().UnreadMessages,
	})
}

func (h *httpHandler) handleChatSend(c *gin.Context) {
	var request chatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.session.SendChat(request.Content)
	if err != nil {
		if errors.Is(err, session.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_message"})
			return
		}
		h.logger.Error("chat message rejected", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}

func (h *httpHandler) handleChatRead(c *gin.Context) {
	h.session.MarkChatRead()
	c.Status(http.StatusNoContent)
}

// handleLogs applies the shared filter set, or the ?type= values when present.
func (h *httpHandler) handleLogs(c *gin.Context) {
	rawTypes := c.QueryArray("type")
	if len(rawTypes) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"entries": h.session.Logs(),
			"filters": h.session.ActivityLog().ActiveFilters(),
		})
		return
	}
	wanted := make(map[activity.EntryType]struct{}, len(rawTypes))
	for _, raw := range rawTypes {
		entryType, err := activity.ParseEntryType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry_type"})
			return
		}
		wanted[entryType] = struct{}{}
	}
	entries := make([]activity.Entry, 0)
	for _, entry := range h.session.ActivityLog().Entries() {
		if _, ok := wanted[entry.Type]; ok {
			entries = append(entries, entry)
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleLogsExport(c *gin.Context) {
	payload, name, err := h.session.ExportLogs()
	if err != nil {
		h.logger.Error("activity log export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *httpHandler) handleToggleFilter(c *gin.Context) {
	entryType, err := activity.ParseEntryType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry_type"})
		return
	}
	log := h.session.ActivityLog()
	active := log.ToggleFilter(entryType)
	c.JSON(http.StatusOK, filterResponsePayload{
		Type:    entryType,
		Active:  active,
		Filters: log.ActiveFilters(),
	})
}

func (h *httpHandler) handleClearFilters(c *gin.Context) {
	h.session.ActivityLog().ClearFilters()
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLag(c *gin.Context) {
	var request lagRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.LagMS == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	applied := h.session.SetSimulatedLag(*request.LagMS)
	c.JSON(http.StatusOK, gin.H{"lag_ms": applied, "network": h.session.Network()})
}

func (h *httpHandler) handleConnection(c *gin.Context) {
	var request connectionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Connected == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	state := h.session.SetConnected(*request.Connected)
	c.JSON(http.StatusOK, gin.H{"network": state})
}

// handleEvents streams session events as server-sent events, starting with a full snapshot.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventSnapshot, h.snapshot())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case moment := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{
				"source":    realtimeSourceBackend,
				"timestamp": moment.UTC(),
			})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("remote", c.ClientIP()))
}
