package gateway

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/runtime"
	"chat-relay/services"
	"chat-relay/session"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Config struct {
	AllowedOrigins []string
	Session        session.Config
}

// relayHub is the hub as seen by the gateway: the session contract plus
// its occupancy for health checks.
type relayHub interface {
	contract.IHub
	Stats() runtime.HubStats
}

// Gateway is the network edge of the relay. It authenticates websocket
// connections before handing them to a session, and serves the REST API.
type Gateway struct {
	log           *slog.Logger
	cfg           Config
	authenticator contract.IAuthenticator
	directory     contract.IRoomDirectory
	accounts      services.IAuthService
	rooms         services.IRoomService
	chat          services.IChatService
	hub           relayHub
	censor        session.Censor
	upgrader      websocket.Upgrader
}

func New(
	log *slog.Logger,
	cfg Config,
	accounts services.IAuthService,
	rooms services.IRoomService,
	chat services.IChatService,
	hub relayHub,
	censor session.Censor,
) *Gateway {
	return &Gateway{
		log:           log,
		cfg:           cfg,
		authenticator: accounts,
		directory:     rooms,
		accounts:      accounts,
		rooms:         rooms,
		chat:          chat,
		hub:           hub,
		censor:        censor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
}

// Router wires every route of the relay.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), g.requestLogger())

	r.GET("/healthz", g.health)
	r.GET("/ws/rooms/:room_id", g.handleWebSocket)

	authGroup := r.Group("/auth")
	authGroup.POST("/register", g.register)
	authGroup.POST("/login", g.login)
	authGroup.GET("/me", g.requireUser(), g.me)

	rooms := r.Group("/rooms", g.requireUser())
	rooms.GET("", g.listRooms)
	rooms.POST("", g.createRoom)
	rooms.POST("/:room_id/members", g.addMember)

	messages := r.Group("/messages", g.requireUser())
	messages.GET("/:room_id", g.getMessages)
	messages.POST("/:room_id", g.postMessage)
	messages.POST("", g.postMessage)

	return r
}

// Accept drives a freshly upgraded connection through the session
// lifecycle: the session is created Connecting, becomes Authenticated once
// the token is validated, then runs once the room checks pass.
// A rejected connection is closed with the matching close code and never
// reaches the hub.
func (g *Gateway) Accept(ctx context.Context, conn session.Conn, token string, roomID domain.RoomID, after *int64) domain.CloseCode {
	s := session.New(g.log, conn, g.hub, g.censor, g.cfg.Session, roomID, after)

	userID, err := g.authenticator.ValidateToken(ctx, token)
	if err != nil {
		return s.Reject(err)
	}
	if err = s.Authenticate(userID); err != nil {
		return s.Reject(err)
	}
	if err = g.checkRoom(ctx, roomID, userID); err != nil {
		return s.Reject(err)
	}
	return s.Run(ctx)
}

func (g *Gateway) checkRoom(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	exists, err := g.directory.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.ErrRoomNotFound
	}
	member, err := g.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !member {
		return errors.ErrRoomAccessDenied
	}
	return nil
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	after, err := parseAfter(c)
	if err != nil {
		g.abort(c, err)
		return
	}
	token := auth.ExtractToken(c.Request)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered
		g.log.Debug("Upgrade failed", "error", err)
		return
	}

	roomID, err := parseRoomID(c.Param("room_id"))
	if err != nil {
		session.New(g.log, conn, g.hub, g.censor, g.cfg.Session, 0, after).Reject(err)
		return
	}
	code := g.Accept(c.Request.Context(), conn, token, roomID, after)
	g.log.Debug("Connection ended", "room_id", roomID, "code", code)
}

func parseRoomID(raw string) (domain.RoomID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errors.ErrRoomNotFound, raw)
	}
	return domain.RoomID(id), nil
}

// parseAfter reads the optional last seen message id.
func parseAfter(c *gin.Context) (*int64, error) {
	raw := c.Query("after")
	if raw == "" {
		return nil, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return nil, fmt.Errorf("%w: invalid cursor %q", errors.ErrMalformedPayload, raw)
	}
	return &after, nil
}

func (g *Gateway) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		g.log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
