package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	chatrepo "sirachat/internal/chat/repository"
	memberapp "sirachat/internal/member/app"
	memberdomain "sirachat/internal/member/domain"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/config"
	"sirachat/pkg/database"
	"sirachat/pkg/logger"
	"sirachat/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
)

// ChatWebsocketHandler 可包含所有需要的 UseCase
type ChatWebsocketHandler struct {
	store      backend.DocumentStore
	blobs      backend.BlobStore
	userRepo   memberrepo.UserRepository
	convRepo   chatrepo.ConversationRepository
	msgRepo    chatrepo.MessageRepository
	typingRepo chatrepo.TypingRepository
	redisRepo  database.RedisRepository[memberdomain.SessionRecord]
	hub        *Hub
	cfg        config.ChatConfig
	sessionTTL time.Duration
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(
	store backend.DocumentStore,
	blobs backend.BlobStore,
	userRepo memberrepo.UserRepository,
	convRepo chatrepo.ConversationRepository,
	msgRepo chatrepo.MessageRepository,
	typingRepo chatrepo.TypingRepository,
	redisRepo database.RedisRepository[memberdomain.SessionRecord],
	hub *Hub,
	cfg config.ChatConfig,
	sessionTTL time.Duration,
) *ChatWebsocketHandler {
	cfg.Defaults()
	return &ChatWebsocketHandler{
		store:      store,
		blobs:      blobs,
		userRepo:   userRepo,
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		typingRepo: typingRepo,
		redisRepo:  redisRepo,
		hub:        hub,
		cfg:        cfg,
		sessionTTL: sessionTTL,
	}
}

// wsClient one live connection: the session context, the conversation
// index and at most one open chat
type wsClient struct {
	h    *ChatWebsocketHandler
	conn *websocket.Conn
	uid  string

	writeMu sync.Mutex

	session *memberapp.SessionContext
	index   ConversationIndex

	mu      sync.Mutex
	current *ChatSession
	cancel  context.CancelFunc
}

// UID session owner
func (c *wsClient) UID() string { return c.uid }

// CurrentChat the open chat session, nil when the list view is showing
func (c *wsClient) CurrentChat() *ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Push write one response, serialized against concurrent pushers
func (c *wsClient) Push(resp chatdomain.WSResponse) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(resp); err != nil {
		logger.Log.Warnf("websocket write failed uid=%s: %v", c.uid, err)
	}
}

func (c *wsClient) pushError(action string, err error) {
	c.Push(chatdomain.WSResponse{
		Action: action,
		Error:  err.Error(),
		Code:   apperr.Code(err),
	})
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	uid, _ := conn.Locals(middlewares.TokenUID).(string)
	logger.Log.Infof("websocket connected uid=%s", uid)

	connCtx, cancel := context.WithCancel(ctx)
	client := &wsClient{h: h, conn: conn, uid: uid, cancel: cancel}

	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.closeChat()
		if client.session != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 3*time.Second)
			client.session.Close(closeCtx)
			closeCancel()
		}
		h.hub.Unregister(client)
		cancel()
		conn.Close()
		logger.Log.Infof("websocket closed uid=%s", uid)
	}()

	//client發出close
	//fiber會自動處理(在read msg 回傳err),故需要SetCloseHandler另外接出
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Infof("websocket close frame uid=%s code=%d", uid, code)
		return nil
	})
	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		return nil
	})

	// 還原 session，沒有紀錄就擋在門外
	session := memberapp.NewSessionContext(uid, h.userRepo, h.redisRepo, h.store, h.blobs, h.sessionTTL)
	if err := session.Start(connCtx); err != nil {
		client.pushError(string(chatdomain.PushSessionEnded), err)
		return
	}
	client.session = session

	index := NewConversationIndex(uid, session.Profile, h.convRepo, h.userRepo)
	indexCh, err := index.Start(connCtx)
	if err != nil {
		client.pushError(string(chatdomain.PushChats), err)
		return
	}
	client.index = index

	h.hub.Register(client)

	go client.forwardIndex(connCtx, indexCh)
	go client.forwardSession(connCtx)

	// 定期發送 Ping
	go func() {
		for {
			select {
			case <-ticker.C:
				client.writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, []byte("ping"))
				client.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Infof("connection closed uid=%s", uid)
			} else {
				logger.Log.Errorf("websocket read error uid=%s: %v", uid, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if done := client.execAction(connCtx, message); done {
			return
		}
	}
}

func (c *wsClient) forwardIndex(ctx context.Context, ch <-chan IndexEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Err != nil {
				c.pushError(string(chatdomain.PushChats), ev.Err)
				continue
			}
			c.Push(chatdomain.WSResponse{
				Action:  string(chatdomain.PushChats),
				Success: true,
				Payload: map[string]interface{}{
					"chats": ev.Rows,
					"badge": ev.Badge,
				},
			})
		}
	}
}

func (c *wsClient) forwardSession(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.session.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case memberapp.EventProfileUpdated:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushProfile),
					Success: true,
					Payload: map[string]interface{}{"profile": ev.Profile},
				})
				// 同步所有對話上的 denormalized 快照
				if err := c.h.convRepo.RefreshMemberProfile(ctx, c.uid, chatdomain.MemberProfile{
					Username:  ev.Profile.Username,
					AvatarURL: ev.Profile.AvatarURL,
				}); err != nil {
					logger.Log.Warnf("refresh member profile failed uid=%s: %v", c.uid, err)
				}
			case memberapp.EventSessionRevoked, memberapp.EventSessionEnded:
				c.closeChat()
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushSessionEnded),
					Success: true,
					Payload: map[string]interface{}{"reason": string(ev.Kind)},
				})
				c.cancel()
				return
			}
		}
	}
}

func (c *wsClient) openChat(ctx context.Context, chatID string) error {
	c.closeChat()

	session, err := OpenChatSession(ctx, chatID, c.session.Profile(),
		c.h.convRepo, c.h.msgRepo, c.h.typingRepo, c.h.userRepo, c.h.cfg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	go c.forwardChat(ctx, session)
	return nil
}

// closeChat tear down the open chat, switching back to the list view
func (c *wsClient) closeChat() {
	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()
	if current != nil {
		current.Close()
	}
}

func (c *wsClient) forwardChat(ctx context.Context, s *ChatSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case ChatEventMessages:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushMessages),
					Success: true,
					Payload: map[string]interface{}{
						"chat_id":  s.ChatID(),
						"messages": ev.Bubbles,
					},
				})
			case ChatEventTyping:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushTyping),
					Success: true,
					Payload: map[string]interface{}{
						"chat_id": s.ChatID(),
						"typing":  ev.Typing,
					},
				})
			case ChatEventPeer:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushPeer),
					Success: true,
					Payload: map[string]interface{}{
						"chat_id": s.ChatID(),
						"peer":    ev.Peer,
					},
				})
			case ChatEventComposer:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushComposer),
					Success: true,
					Payload: map[string]interface{}{
						"chat_id":  s.ChatID(),
						"composer": ev.Composer,
					},
				})
			case ChatEventGone:
				c.Push(chatdomain.WSResponse{
					Action:  string(chatdomain.PushChatGone),
					Success: true,
					Payload: map[string]interface{}{"chat_id": s.ChatID()},
				})
				c.closeChat()
				return
			case ChatEventError:
				c.pushError(string(chatdomain.PushMessages), ev.Err)
			}
		}
	}
}

// execAction dispatch one client request, true means the connection is done
func (c *wsClient) execAction(ctx context.Context, msg []byte) bool {
	var req chatdomain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		c.pushError("", apperr.Wrap(apperr.ErrValidation, "invalid request"))
		return false
	}

	resp := chatdomain.WSResponse{Action: req.Action, Success: false, Payload: map[string]interface{}{}}
	switch req.Action {
	case string(chatdomain.ListChats):
		// 清單由 watcher 主動推送，這裡只需回 ack
		resp.Success = true

	case string(chatdomain.ListUsers):
		users, err := c.index.ListUsers(ctx)
		if err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true
		// 名單走跟其他推播一樣的 action
		c.Push(chatdomain.WSResponse{
			Action:  string(chatdomain.PushUsers),
			Success: true,
			Payload: map[string]interface{}{"users": users},
		})

	case string(chatdomain.StartChat):
		chatID, err := c.index.StartChat(ctx, req.PartnerID)
		if err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true
		resp.Payload["chat_id"] = chatID

	case string(chatdomain.OpenChat):
		if err := c.openChat(ctx, req.ChatID); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true
		resp.Payload["chat_id"] = req.ChatID

	case string(chatdomain.CloseChat):
		c.closeChat()
		resp.Success = true

	case string(chatdomain.DeleteChat):
		if err := c.deleteChat(ctx, req.ChatID); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.SendMessage):
		current := c.CurrentChat()
		if current == nil {
			return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "no open chat"))
		}
		var err error
		if req.Sticker != "" {
			err = current.SendSticker(ctx, req.Sticker)
		} else {
			err = current.Send(ctx, SendInput{Text: req.Text})
		}
		if err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.EditMessage):
		current := c.CurrentChat()
		if current == nil {
			return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "no open chat"))
		}
		if err := current.Edit(ctx, req.MessageID, req.Text); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.DeleteMessage):
		current := c.CurrentChat()
		if current == nil {
			return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "no open chat"))
		}
		if err := current.Delete(ctx, req.MessageID); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.BeginEdit):
		current := c.CurrentChat()
		if current == nil {
			return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "no open chat"))
		}
		if err := current.BeginEdit(req.MessageID); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.BeginReply):
		current := c.CurrentChat()
		if current == nil {
			return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "no open chat"))
		}
		if err := current.BeginReply(req.MessageID); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.CancelCompose):
		if current := c.CurrentChat(); current != nil {
			current.Composer().Cancel()
		}
		resp.Success = true

	case string(chatdomain.Typing):
		if current := c.CurrentChat(); current != nil {
			current.Composer().Keystroke(req.Text)
		}
		resp.Success = true

	case string(chatdomain.GetStickers):
		resp.Success = true
		resp.Payload["stickers"] = chatdomain.Stickers
		resp.Payload["quick_emojis"] = chatdomain.QuickEmojis

	case string(chatdomain.UpdateProfile):
		if err := c.session.UpdateUsername(ctx, req.Username); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true

	case string(chatdomain.Logout):
		c.closeChat()
		if err := c.session.Logout(ctx); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true
		c.Push(resp)
		return true

	case string(chatdomain.DeleteAccount):
		c.closeChat()
		if err := c.session.DeleteAccount(ctx); err != nil {
			return c.fail(&resp, err)
		}
		resp.Success = true
		c.Push(resp)
		return true

	default:
		return c.fail(&resp, apperr.Wrap(apperr.ErrValidation, "unknown action "+req.Action))
	}

	c.Push(resp)
	return false
}

func (c *wsClient) fail(resp *chatdomain.WSResponse, err error) bool {
	resp.Error = err.Error()
	resp.Code = apperr.Code(err)
	c.Push(*resp)
	return false
}

// deleteChat cascade delete works with or without the chat being open
func (c *wsClient) deleteChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return apperr.Wrap(apperr.ErrValidation, "chat id is empty")
	}
	if current := c.CurrentChat(); current != nil && current.ChatID() == chatID {
		defer c.closeChat()
		return current.DeleteConversation(ctx, c.h.store)
	}

	msgs, err := c.h.msgRepo.List(ctx, chatID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	batch := c.h.store.Batch()
	c.h.convRepo.DeleteBatch(batch, chatID, ids)
	if err := batch.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.ErrBackendUnavailable, err.Error())
	}
	return nil
}
