package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tavern-room/backend/internal/middleware"
	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
)

const (
	pongWait     = 60 * time.Second
	maxFrameSize = 16 * 1024
)

// inboundFrame 客户端发来的实时事件
type inboundFrame struct {
	Type    string `json:"type" validate:"required,oneof=join send_message"`
	Room    string `json:"room" validate:"max=128"`
	Message string `json:"message" validate:"required_if=Type send_message,max=4000"`
	Target  string `json:"target" validate:"max=128"`
}

// Handler 负责 WebSocket 聊天与 SSE 房间订阅
type Handler struct {
	chatSvc   *chatservice.Service
	auth      *middleware.Auth
	queueSize int
	validate  *validator.Validate
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// New 创建实时处理器。origins 决定浏览器页面能否发起 WebSocket 握手
func New(chatSvc *chatservice.Service, auth *middleware.Auth, origins *middleware.OriginPolicy, queueSize int) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		auth:      auth,
		queueSize: queueSize,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     origins.CheckRequest,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
}

// RegisterRoutes 注册 WebSocket 入口，挂在根路由上
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.auth.Require).Get("/ws", h.handleWebSocket)
}

// RegisterAPIRoutes 注册 /api 下的房间事件流
func (h *Handler) RegisterAPIRoutes(api chi.Router) {
	api.With(h.auth.Require).Get("/rooms/{roomID}/events", h.handleRoomEvents)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFrom(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	conn := room.NewConnection(principal.Participant.Identity, ws, h.queueSize)
	conn.Start()
	defer func() {
		h.chatSvc.Leave(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
		log.Printf("[ws] connection closed for %s", principal.Participant.Identity)
	}()

	log.Printf("[ws] new connection for %s", principal.Participant.Identity)

	// 连接的生命周期独立于升级请求
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		// 会话过期后拒绝事件并提示重新登录，连接保持到客户端自行断开
		if principal.Expired(h.now()) {
			h.sendError(conn, identity.ErrAuthExpired)
			continue
		}

		h.handleFrame(ctx, conn, principal.Participant, raw)
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *room.Connection, p chat.Participant, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(conn, errors.New("invalid frame"))
		return
	}
	if err := h.validate.Struct(frame); err != nil {
		h.sendError(conn, err)
		return
	}

	switch frame.Type {
	case chat.EventJoin:
		if _, _, err := h.chatSvc.Join(ctx, conn, frame.Room, p); err != nil {
			log.Printf("[ws] join room=%s failed for %s: %v", frame.Room, p.Identity, err)
			h.sendError(conn, err)
		}
	case chat.EventSendMessage:
		in := chatservice.SendInput{
			RoomID:      frame.Room,
			Participant: p,
			Body:        frame.Message,
			Target:      frame.Target,
		}
		if _, err := h.chatSvc.Send(ctx, in); err != nil {
			log.Printf("[ws] send room=%s failed for %s: %v", frame.Room, p.Identity, err)
			h.sendError(conn, err)
		}
	}
}

func (h *Handler) sendError(conn *room.Connection, err error) {
	reauth := ""
	if errors.Is(err, identity.ErrAuthExpired) || errors.Is(err, identity.ErrUnauthenticated) {
		reauth = middleware.LoginPath
	}
	payload, mErr := json.Marshal(chat.NewError(err.Error(), reauth))
	if mErr != nil {
		log.Printf("[ws] encode error frame: %v", mErr)
		return
	}
	if sErr := conn.Send(payload); sErr != nil {
		log.Printf("[ws] error frame dropped for %s: %v", conn.Identity, sErr)
	}
}
