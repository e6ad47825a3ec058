package roomhandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatrelay/internal/services/message"
	"chatrelay/internal/ws"
)

type Handler struct {
	svc message.IMessageService
	hub *ws.Hub
	pub ws.Publisher
}

func New(svc message.IMessageService, hub *ws.Hub, pub ws.Publisher) *Handler {
	return &Handler{svc: svc, hub: hub, pub: pub}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms/:id/roster", h.roster)
	r.POST("/rooms/:id/messages", h.postMessage)
	r.GET("/healthz", h.health)
}

// @Summary		Room presence roster
// @Description	Point-in-time snapshot of the distinct users currently present in a room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(general)
// @Success		200	{object}	RosterResponse
// @Router			/rooms/{id}/roster [get]
func (h *Handler) roster(c *gin.Context) {
	roomID := c.Param("id")
	users := h.hub.Roster(roomID)
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, RosterResponse{RoomID: roomID, Users: users})
}

// @Summary		Post a message
// @Description	Records the message on the authoritative write path, then fans it out to current room subscribers.
// @Tags			Rooms
// @Param			id		path	string			true	"Room ID"	default(general)
// @Param			body	body	PostMessageBody	true	"Message payload"
// @Success		202	{object}	message.MessageDTO
// @Failure		400	{object}	ErrorResponse
// @Failure		403	{object}	ErrorResponse
// @Router			/rooms/{id}/messages [post]
func (h *Handler) postMessage(ginCtx *gin.Context) {
	var body PostMessageBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	roomID := ginCtx.Param("id")
	ctx := ginCtx.Request.Context()

	if err := h.svc.AuthorizeRoomAccess(ctx, body.SenderID, roomID); err != nil {
		if errors.Is(err, message.ErrAccessDenied) {
			ginCtx.JSON(http.StatusForbidden, &ErrorResponse{Error: err.Error()})
			return
		}
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}

	dto, err := h.svc.Record(ctx, roomID, body.SenderID, body.Content)
	if err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	env := ws.NewMessageEnvelope(dto)
	if err := h.pub.Publish(ctx, roomID, "", env); err != nil {
		// The write already succeeded; fan-out failure is logged, not
		// surfaced as a request failure.
		zap.L().Error("roomhandler.publish", zap.String("room_id", roomID), zap.Error(err))
	}
	ginCtx.JSON(http.StatusAccepted, dto)
}

func (h *Handler) health(c *gin.Context) {
	c.Status(http.StatusOK)
}
