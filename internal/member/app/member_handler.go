package app

import (
	"time"

	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// MemberHandler http 入口，登入後其餘操作都走 websocket
type MemberHandler struct {
	Usecase MemberUseCase
}

// SignInReq sign in request body
type SignInReq struct {
	Username string `json:"username"`
}

// SignIn 實作 名稱登入
func (h *MemberHandler) SignIn(c *fiber.Ctx) error {
	var req SignInReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
			"code":    apperr.Code(apperr.ErrValidation),
		})
	}

	jwt, profile, err := h.Usecase.SignIn(c.Context(), req.Username)
	if err != nil {
		logger.Log.Errorf("SignIn Err username=%s: %v", req.Username, err)
		status := fiber.StatusBadRequest
		if apperr.Code(err) == apperr.Code(apperr.ErrBackendUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"code":    apperr.Code(err),
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "auth_token",
		Value:    jwt,
		Expires:  time.Now().Add(24 * time.Hour),
		HTTPOnly: true,
	})
	return c.JSON(fiber.Map{
		"success": true,
		"token":   jwt,
		"profile": profile,
	})
}
