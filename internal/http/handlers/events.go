package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reelforge/reelforge-backend/internal/http/middleware"
	"github.com/reelforge/reelforge-backend/internal/http/response"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
	"github.com/reelforge/reelforge-backend/internal/realtime"
)

type EventsHandler struct {
	hub *realtime.Hub
	log *logger.Logger
}

func NewEventsHandler(hub *realtime.Hub, baseLog *logger.Logger) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		log: baseLog.With("handler", "EventsHandler"),
	}
}

// Stream subscribes the caller to its own channel and holds the connection
// open until the client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing owner"))
		return
	}
	client := h.hub.NewClient(ownerID)
	h.hub.AddChannel(client, ownerID.String())
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
