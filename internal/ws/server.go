package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay/internal/services/message"
)

const dispatchTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origin in prod
	},
}

type WsConfig struct {
	WriteWait         time.Duration
	MaxMessageBytes   int64
	HeartbeatInterval time.Duration
}

type WsServer struct {
	hub      *Hub
	registry *Registry
	router   *Router
	pub      Publisher
	subMgr   roomSubscriber
	receipts ReceiptSink
	msgSvc   message.IMessageService
	liveness *LivenessMonitor
	cfg      WsConfig
	validate *validator.Validate
}

func NewWsServer(hub *Hub, registry *Registry, rdc *redis.Client, fanout *RedisFanout,
	msgSvc message.IMessageService, cfg WsConfig) *WsServer {
	return newWsServer(hub, registry, fanout, newSubscriptionManager(rdc, hub), fanout, msgSvc, cfg)
}

func newWsServer(hub *Hub, registry *Registry, pub Publisher, subMgr roomSubscriber,
	receipts ReceiptSink, msgSvc message.IMessageService, cfg WsConfig) *WsServer {
	srv := &WsServer{
		hub:      hub,
		registry: registry,
		router:   NewRouter(),
		pub:      pub,
		subMgr:   subMgr,
		receipts: receipts,
		msgSvc:   msgSvc,
		cfg:      cfg,
		validate: validator.New(),
	}
	srv.liveness = NewLivenessMonitor(registry, cfg.HeartbeatInterval, srv.dropConnection)
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// RunLiveness blocks driving the heartbeat cycle; start it once at boot.
func (s *WsServer) RunLiveness(ctx context.Context) {
	s.liveness.Run(ctx)
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.cfg.MaxMessageBytes)

	wsConn := &clientConn{rawConn: rawConn, writeWait: s.cfg.WriteWait}
	c := s.registry.Register(wsConn)
	zap.L().Debug("ws.connected", zap.String("conn_id", c.ID))

	go s.reader(c, wsConn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 identify ------------------------------------------------------------
	Register(
		s.router,
		EventIdentify,
		func(ctx context.Context, cc *ConnContext, req IdentifyRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errors.New("invalid_payload")
			}
			s.registry.Identify(cc.Conn.ID, req.UserID)
			return AckBody{}, nil
		},
	)

	// 🔹 join-room -----------------------------------------------------------
	Register(
		s.router,
		EventJoinRoom,
		func(ctx context.Context, cc *ConnContext, req JoinRoomRequest) (JoinedRoomBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return JoinedRoomBody{}, errors.New("invalid_payload")
			}
			// Anonymous connections may subscribe: the access check is
			// keyed on identity and they never surface in presence.
			userID := cc.Conn.UserID()
			if userID != "" {
				// External authorization completes before any room state
				// is touched; it is never re-checked for this session.
				if err := s.msgSvc.AuthorizeRoomAccess(ctx, userID, req.RoomID); err != nil {
					if errors.Is(err, message.ErrAccessDenied) {
						return JoinedRoomBody{}, err
					}
					zap.L().Error("ws.authorize", zap.Error(err))
					return JoinedRoomBody{}, errors.New("authorization_unavailable")
				}
			}

			s.subMgr.Subscribe(req.RoomID) // may be a no‑op (already subscribed)
			s.hub.Join(req.RoomID, cc.Conn)

			// A liveness reap can race this handler: the reaper may have
			// unregistered the connection and walked its rooms before this
			// join landed. Undo, or the dead connection stays a member.
			if _, live := s.registry.Get(cc.Conn.ID); !live {
				if s.hub.Leave(req.RoomID, cc.Conn) {
					s.subMgr.Unsubscribe(req.RoomID)
				}
				return JoinedRoomBody{}, errors.New("connection_closed")
			}

			if userID != "" {
				s.publishPresence(ctx, EventUserJoined, req.RoomID, userID, cc.Conn.ID)
			}

			return JoinedRoomBody{RoomID: req.RoomID}, nil
		},
	)

	// 🔹 leave-room ----------------------------------------------------------
	Register(
		s.router,
		EventLeaveRoom,
		func(ctx context.Context, cc *ConnContext, req LeaveRoomRequest) (AckBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return AckBody{}, errors.New("invalid_payload")
			}
			if was := s.hub.Leave(req.RoomID, cc.Conn); was {
				s.subMgr.Unsubscribe(req.RoomID)
				if userID := cc.Conn.UserID(); userID != "" {
					s.publishPresence(ctx, EventUserLeft, req.RoomID, userID, cc.Conn.ID)
				}
			}
			return AckBody{}, nil
		},
	)

	// 🔹 send-message --------------------------------------------------------
	Register(
		s.router,
		EventSendMessage,
		func(ctx context.Context, cc *ConnContext, req SendMessageRequest) (MessageBody, error) {
			if err := s.validate.Struct(req); err != nil {
				return MessageBody{}, errors.New("invalid_payload")
			}
			userID := cc.Conn.UserID()
			if userID == "" {
				return MessageBody{}, errors.New("not_identified")
			}
			if !s.hub.IsMember(req.RoomID, cc.Conn) {
				return MessageBody{}, errors.New("not_in_room")
			}

			// The authoritative write happens first; broadcast only on
			// success, so a failed send is never seen by subscribers.
			dto, err := s.msgSvc.Record(ctx, req.RoomID, userID, req.Content)
			if err != nil {
				return MessageBody{}, err
			}

			body := MessageBody{
				MessageID: dto.ID,
				RoomID:    dto.RoomID,
				SenderID:  dto.SenderID,
				Content:   dto.Content,
				CreatedAt: dto.CreatedAt,
			}
			if err := s.pub.Publish(ctx, req.RoomID, "", mustEnvelope(EventNewMessage, body)); err != nil {
				zap.L().Error("ws.publish", zap.String("room_id", req.RoomID), zap.Error(err))
			}
			return body, nil
		},
	)
}

func (s *WsServer) reader(c *Conn, conn *clientConn) {
	defer s.dropConnection(c)

	cc := &ConnContext{Conn: c, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		// Fire-and-forget notifications bypass the request router.
		switch env.Event {
		case EventHeartbeatAck:
			c.beat()
			continue
		case EventMessageReceived:
			s.handleReceipt(c, env.Body)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			_ = c.push(mustEnvelope(EventError, ErrorBody{Error: err.Error()}))
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		_ = c.push(mustEnvelope(env.Event+ackSuffix, res))
	}
}

func (s *WsServer) handleReceipt(c *Conn, body json.RawMessage) {
	var note MessageReceivedNote
	if err := json.Unmarshal(body, &note); err != nil || note.MessageID == "" {
		return
	}
	userID := c.UserID()
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := s.receipts.RecordReceipt(ctx, note.MessageID, userID); err != nil {
		zap.L().Debug("ws.receipt", zap.Error(err))
	}
}

// dropConnection is the single cancellation cascade: registry removal, then
// leave + presence-left per room. Idempotent — the reader defer and a
// liveness reap may race onto it.
func (s *WsServer) dropConnection(c *Conn) {
	removed := s.registry.Unregister(c.ID)
	if removed == nil {
		return
	}

	userID := c.UserID()
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	for _, roomID := range c.Rooms() {
		if was := s.hub.Leave(roomID, c); !was {
			continue
		}
		s.subMgr.Unsubscribe(roomID)
		if userID != "" {
			s.publishPresence(ctx, EventUserLeft, roomID, userID, c.ID)
		}
	}

	_ = c.writer.Close()
	zap.L().Debug("ws.disconnected", zap.String("conn_id", c.ID))
}

func (s *WsServer) publishPresence(ctx context.Context, event, roomID, userID, originConnID string) {
	env := mustEnvelope(event, PresenceBody{RoomID: roomID, UserID: userID})
	if err := s.pub.Publish(ctx, roomID, originConnID, env); err != nil {
		zap.L().Warn("ws.presence_publish",
			zap.String("event", event),
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}
}
