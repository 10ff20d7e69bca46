package app

import (
	"sirachat/internal/backend"
	chatdomain "sirachat/internal/chat/domain"
	"sirachat/internal/chat/repository"
	memberrepo "sirachat/internal/member/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/logger"
	"sirachat/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// AttachmentHandler multipart uploads ride HTTP while progress and the
// resulting message ride the websocket of the same uid
type AttachmentHandler struct {
	attachRepo repository.AttachmentRepository
	userRepo   memberrepo.UserRepository
	hub        *Hub
}

// NewAttachmentHandler create AttachmentHandler
func NewAttachmentHandler(attachRepo repository.AttachmentRepository,
	userRepo memberrepo.UserRepository,
	hub *Hub,
) *AttachmentHandler {
	return &AttachmentHandler{attachRepo: attachRepo, userRepo: userRepo, hub: hub}
}

// Upload 實作 附件上傳，完成後直接以目前開啟的聊天送出
func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	uid, _ := c.Locals(middlewares.TokenUID).(string)

	client, ok := h.hub.Find(uid)
	if !ok {
		return h.jsonError(c, fiber.StatusConflict, apperr.Wrap(apperr.ErrValidation, "no live connection"))
	}
	current := client.CurrentChat()
	if current == nil {
		return h.jsonError(c, fiber.StatusConflict, apperr.Wrap(apperr.ErrValidation, "no open chat"))
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, apperr.Wrap(apperr.ErrValidation, "missing file field"))
	}
	caption := c.FormValue("caption")

	file, err := fileHeader.Open()
	if err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, apperr.Wrap(apperr.ErrUploadFailed, err.Error()))
	}
	defer file.Close()

	composer := current.Composer()
	upCtx, err := composer.BeginUpload(c.Context(), fileHeader.Filename)
	if err != nil {
		return h.jsonError(c, fiber.StatusConflict, err)
	}

	contentType := fileHeader.Header.Get("Content-Type")
	att, err := h.attachRepo.UploadAttachment(upCtx, fileHeader.Filename, contentType,
		file, fileHeader.Size, func(frac float64) {
			composer.SetUploadProgress(frac)
			client.Push(chatdomain.WSResponse{
				Action:  string(chatdomain.PushUploadProgress),
				Success: true,
				Payload: map[string]interface{}{
					"chat_id":   current.ChatID(),
					"file_name": fileHeader.Filename,
					"progress":  frac,
				},
			})
		})
	if err != nil {
		composer.FinishUpload(false)
		logger.Log.Errorf("attachment upload failed uid=%s: %v", uid, err)
		return h.jsonError(c, fiber.StatusBadGateway, err)
	}
	composer.FinishUpload(true)

	if err := current.Send(c.Context(), SendInput{Text: caption, Attachment: att}); err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"attachment": att,
	})
}

// UploadAvatar 實作 頭像上傳，僅接受圖片
func (h *AttachmentHandler) UploadAvatar(c *fiber.Ctx) error {
	uid, _ := c.Locals(middlewares.TokenUID).(string)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, apperr.Wrap(apperr.ErrValidation, "missing file field"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, apperr.Wrap(apperr.ErrUploadFailed, err.Error()))
	}
	defer file.Close()

	url, err := h.attachRepo.UploadAvatar(c.Context(), uid, fileHeader.Header.Get("Content-Type"),
		file, fileHeader.Size)
	if err != nil {
		return h.jsonError(c, fiber.StatusBadRequest, err)
	}
	// 寫回 profile，watcher 會把新頭像推給所有相關視圖
	if err := h.userRepo.UpdateFields(c.Context(), uid, backend.Doc{"avatar_url": url}); err != nil {
		return h.jsonError(c, fiber.StatusBadGateway, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"avatar_url": url,
	})
}

func (h *AttachmentHandler) jsonError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
		"code":    apperr.Code(err),
	})
}
