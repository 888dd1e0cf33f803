package roomhandler

import (
	"context"
	"errors"
	"net/http"

	"roomchat/internal/services/member"
	"roomchat/internal/services/room"
	"roomchat/internal/syncevents"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActivityReader serves the recorded membership events of a room.
type ActivityReader interface {
	Recent(ctx context.Context, roomID string, limit int) ([]syncevents.Entry, error)
}

type Handler struct {
	rooms    room.IRoomRegistry
	members  member.IMemberRegistry
	activity ActivityReader // nil when the activity log is off
}

func New(rooms room.IRoomRegistry, members member.IMemberRegistry, activity ActivityReader) *Handler {
	return &Handler{rooms: rooms, members: members, activity: activity}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.GET("/rooms/:id", h.info)
	r.GET("/rooms/:id/members", h.listMembers)
	r.GET("/rooms/:id/activity", h.listActivity)
	r.DELETE("/rooms/:id", h.delete)
}

// @Summary		Get room details
// @Description	Returns the room and its accumulated member count.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(lobby)
// @Success		200	{object}	room.Room
// @Failure		404	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms/{id} [get]
func (h *Handler) info(c *gin.Context) {
	r, err := h.rooms.FindOne(c.Request.Context(), c.Param("id"))
	if errors.Is(err, room.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.internal(c, "rooms.info", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Summary		List rooms
// @Description	Retrieves a paginated list of rooms, most recently active first.
// @Tags			Rooms
// @Param			limit	query		int	false	"Max results (0‑100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int	false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		room.Room
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	var q ListRoomsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.rooms.List(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		h.internal(c, "rooms.list", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		List room members
// @Description	Live connections currently joined to the room, oldest first.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"	default(lobby)
// @Success		200	{array}		member.Member
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms/{id}/members [get]
func (h *Handler) listMembers(c *gin.Context) {
	list, err := h.members.ListByRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internal(c, "rooms.members", err)
		return
	}
	if list == nil {
		list = []member.Member{}
	}
	c.JSON(http.StatusOK, list)
}

// @Summary		Room activity
// @Description	Recorded room.member.joined / room.member.left events, newest first.
// @Tags			Rooms
// @Param			id		path		string	true	"Room ID"		default(lobby)
// @Param			limit	query		int		false	"Max results"	minimum(1)	maximum(200)	default(20)
// @Success		200		{array}		syncevents.Entry
// @Failure		400		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/rooms/{id}/activity [get]
func (h *Handler) listActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "activity log disabled"})
		return
	}
	var q ActivityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	list, err := h.activity.Recent(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		h.internal(c, "rooms.activity", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary		Delete a room
// @Description	Removes an empty room. Rooms that still have live members are kept.
// @Tags			Rooms
// @Param			id	path	string	true	"Room ID"	default(lobby)
// @Success		204
// @Failure		404	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms/{id} [delete]
func (h *Handler) delete(c *gin.Context) {
	roomID := c.Param("id")

	err := h.rooms.Delete(c.Request.Context(), roomID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, room.ErrRoomOccupied):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.internal(c, "rooms.delete", err)
		return
	}
	zap.L().Info("rooms.deleted", zap.String("room_id", roomID))
	c.Status(http.StatusNoContent)
}

func (h *Handler) internal(c *gin.Context, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
