package router

import (
	"context"

	chatapp "sirachat/internal/chat/app"
	memberapp "sirachat/internal/member/app"
	"sirachat/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册聊天相关的路由
func RegisterRoutes(r *fiber.App,
	memberHandler *memberapp.MemberHandler,
	chatWebsocket *chatapp.ChatWebsocketHandler,
	attachmentHandler *chatapp.AttachmentHandler,
) {
	r.Post("/signin", memberHandler.SignIn)

	authed := r.Group("", middlewares.JWTMiddleware())

	authed.Get("/ws", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))

	authed.Post("/attachments", attachmentHandler.Upload)
	authed.Post("/avatar", attachmentHandler.UploadAvatar)
}
