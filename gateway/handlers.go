package gateway

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

type roomResponse struct {
	ID        domain.RoomID `json:"id"`
	Name      string        `json:"name"`
	Members   []string      `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
}

func toRoomResponse(room domain.Room) roomResponse {
	members := lo.Map(lo.Keys(room.Members), func(item domain.UserID, _ int) string {
		return string(item)
	})
	slices.Sort(members)
	return roomResponse{ID: room.ID, Name: room.Name, Members: members, CreatedAt: room.CreatedAt}
}

// bind decodes a JSON body and runs its validate tags.
func bind(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	if err := auth.Validate(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err)
	}
	return nil
}

func (g *Gateway) health(c *gin.Context) {
	stats := g.hub.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": stats.Rooms, "sessions": stats.Sessions})
}

func (g *Gateway) register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.abort(c, fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err))
		return
	}
	token, err := g.accounts.Register(req.Email, req.Password)
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse{AccessToken: token.String(), TokenType: "bearer"})
}

func (g *Gateway) login(c *gin.Context) {
	var req auth.LoginRequest
	if err := bind(c, &req); err != nil {
		g.abort(c, err)
		return
	}
	token, err := g.accounts.Login(req.Email, req.Password)
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token.String(), TokenType: "bearer"})
}

func (g *Gateway) me(c *gin.Context) {
	user, err := g.accounts.Me(c.Request.Context(), auth.ExtractToken(c.Request))
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse{ID: user.ID, Email: user.Email, Roles: user.Roles, CreatedAt: user.CreatedAt})
}

func (g *Gateway) createRoom(c *gin.Context) {
	var req auth.CreateRoomRequest
	if err := bind(c, &req); err != nil {
		g.abort(c, err)
		return
	}
	room, err := g.rooms.CreateRoom(c.Request.Context(), req.Name, currentUser(c))
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

func (g *Gateway) listRooms(c *gin.Context) {
	rooms, err := g.rooms.ListRooms(c.Request.Context())
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(rooms, func(item domain.Room, _ int) roomResponse {
		return toRoomResponse(item)
	}))
}

func (g *Gateway) addMember(c *gin.Context) {
	roomID, err := parseRoomID(c.Param("room_id"))
	if err != nil {
		g.abort(c, err)
		return
	}
	var req auth.AddMemberRequest
	if err = bind(c, &req); err != nil {
		g.abort(c, err)
		return
	}
	if err = g.rooms.AddMember(c.Request.Context(), roomID, currentUser(c), domain.UserID(req.UserID)); err != nil {
		g.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) getMessages(c *gin.Context) {
	roomID, err := parseRoomID(c.Param("room_id"))
	if err != nil {
		g.abort(c, err)
		return
	}
	after, err := parseAfter(c)
	if err != nil {
		g.abort(c, err)
		return
	}
	messages, err := g.chat.GetMessages(c.Request.Context(), roomID, currentUser(c), after)
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// postMessage is the HTTP fallback of the websocket send. The room comes
// from the path, or from a room_id field of the body.
func (g *Gateway) postMessage(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		g.abort(c, fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err))
		return
	}

	var roomID domain.RoomID
	if param := c.Param("room_id"); param != "" {
		roomID, err = parseRoomID(param)
	} else {
		roomID, err = roomIDFromBody(raw)
	}
	if err != nil {
		g.abort(c, err)
		return
	}

	message, err := g.chat.PostMessage(c.Request.Context(), roomID, currentUser(c), raw)
	if err != nil {
		g.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func roomIDFromBody(raw []byte) (domain.RoomID, error) {
	var body struct {
		RoomID *int64 `json:"room_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.RoomID == nil {
		return 0, fmt.Errorf("%w: missing room_id", errors.ErrMalformedPayload)
	}
	if *body.RoomID <= 0 {
		return 0, errors.ErrRoomNotFound
	}
	return domain.RoomID(*body.RoomID), nil
}
