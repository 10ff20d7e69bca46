package app

import (
	"context"
	"strings"
	"sync"
	"time"

	chatdomain "sirachat/internal/chat/domain"
	"sirachat/internal/chat/repository"
	"sirachat/pkg/apperr"
	"sirachat/pkg/config"
	"sirachat/pkg/logger"
)

// Composer per-chat input state machine. Exactly one mode at a time:
// idle, editing, replying or uploading. Editing excludes replying and
// uploading, entering one cancels the other.
type Composer struct {
	chatID      string
	uid         string
	displayName string
	typingRepo  repository.TypingRepository
	cfg         config.ChatConfig
	onState     func(chatdomain.ComposerState)

	mu             sync.Mutex
	mode           chatdomain.ComposerMode
	text           string
	editing        *chatdomain.Message
	replyTo        *chatdomain.ReplyRef
	uploadName     string
	uploadProgress float64
	cancelUpload   context.CancelFunc

	isTyping bool
	debounce *time.Timer
	idle     *time.Timer
}

// NewComposer create an idle composer bound to one conversation
func NewComposer(chatID, uid, displayName string,
	typingRepo repository.TypingRepository,
	cfg config.ChatConfig,
	onState func(chatdomain.ComposerState),
) *Composer {
	cfg.Defaults()
	return &Composer{
		chatID:      chatID,
		uid:         uid,
		displayName: displayName,
		typingRepo:  typingRepo,
		cfg:         cfg,
		onState:     onState,
	}
}

// State current snapshot
func (c *Composer) State() chatdomain.ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Composer) stateLocked() chatdomain.ComposerState {
	st := chatdomain.ComposerState{
		Mode:           c.mode.String(),
		Text:           c.text,
		ReplyTo:        c.replyTo,
		UploadFileName: c.uploadName,
		UploadProgress: c.uploadProgress,
	}
	if c.editing != nil {
		st.EditingID = c.editing.ID
	}
	return st
}

func (c *Composer) pushStateLocked() {
	if c.onState != nil {
		c.onState(c.stateLocked())
	}
}

// Keystroke the input text changed. Schedules a debounced typing publish,
// except while editing where the indicator stays quiet.
func (c *Composer) Keystroke(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.text = text
	if c.mode == chatdomain.ModeEditing {
		return
	}
	if strings.TrimSpace(text) == "" {
		c.scheduleStopLocked()
		return
	}

	// trailing debounce：一連串按鍵只發出一次 true
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.cfg.TypingDebounce, func() {
		c.publishTyping(true)
	})
	c.resetIdleLocked()
}

func (c *Composer) resetIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = time.AfterFunc(c.cfg.TypingIdle, func() {
		c.publishTyping(false)
	})
}

func (c *Composer) scheduleStopLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	if c.isTyping {
		go c.publishTyping(false)
	}
}

func (c *Composer) publishTyping(isTyping bool) {
	c.mu.Lock()
	if c.isTyping == isTyping {
		c.mu.Unlock()
		return
	}
	c.isTyping = isTyping
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.typingRepo.Publish(ctx, c.chatID, c.uid, c.displayName, isTyping); err != nil {
		logger.Log.Warnf("typing publish failed chat=%s: %v", c.chatID, err)
	}
}

// StopTyping flip the indicator off right away, used on send, on chat
// switch and on teardown
func (c *Composer) StopTyping() {
	c.mu.Lock()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	if c.idle != nil {
		c.idle.Stop()
	}
	c.mu.Unlock()
	c.publishTyping(false)
}

// BeginEdit enter editing on an own text message. Any pending reply is
// discarded, an in-flight upload blocks the switch.
func (c *Composer) BeginEdit(msg *chatdomain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == chatdomain.ModeUploading {
		return apperr.Wrap(apperr.ErrValidation, "upload in progress")
	}
	if !msg.CanEdit(c.uid) {
		return apperr.Wrap(apperr.ErrPermissionDenied, "message is not editable")
	}

	c.mode = chatdomain.ModeEditing
	c.editing = msg
	c.replyTo = nil
	c.text = msg.Text
	c.pushStateLocked()
	return nil
}

// BeginReply enter replying, freezing a quote of the target. A pending
// edit is discarded, an in-flight upload blocks the switch.
func (c *Composer) BeginReply(msg *chatdomain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == chatdomain.ModeUploading {
		return apperr.Wrap(apperr.ErrValidation, "upload in progress")
	}
	if !msg.CanReply() {
		return apperr.Wrap(apperr.ErrValidation, "cannot reply to a deleted message")
	}

	if c.mode == chatdomain.ModeEditing {
		c.editing = nil
		c.text = ""
	}
	c.mode = chatdomain.ModeReplying
	c.replyTo = msg.ReplySnapshot()
	c.pushStateLocked()
	return nil
}

// Cancel back to idle, discarding any pending edit, reply or upload
func (c *Composer) Cancel() {
	c.mu.Lock()
	if c.cancelUpload != nil {
		c.cancelUpload()
		c.cancelUpload = nil
	}
	c.resetLocked()
	c.pushStateLocked()
	c.mu.Unlock()
}

func (c *Composer) resetLocked() {
	c.mode = chatdomain.ModeIdle
	c.editing = nil
	c.replyTo = nil
	c.text = ""
	c.uploadName = ""
	c.uploadProgress = 0
}

// Editing the message being edited, nil outside editing mode
func (c *Composer) Editing() *chatdomain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing
}

// Mode current mode
func (c *Composer) Mode() chatdomain.ComposerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ConsumeReply take the pending quote, clearing reply mode. The quote is
// attached to exactly one outgoing message.
func (c *Composer) ConsumeReply() *chatdomain.ReplyRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := c.replyTo
	if c.mode == chatdomain.ModeReplying {
		c.mode = chatdomain.ModeIdle
	}
	c.replyTo = nil
	c.text = ""
	c.pushStateLocked()
	return ref
}

// FinishEdit editing completed or abandoned, back to idle
func (c *Composer) FinishEdit() {
	c.mu.Lock()
	if c.mode == chatdomain.ModeEditing {
		c.resetLocked()
		c.pushStateLocked()
	}
	c.mu.Unlock()
}

// BeginUpload enter uploading. Returns a context the upload must run
// under so Cancel can abort it. Blocked while editing.
func (c *Composer) BeginUpload(ctx context.Context, fileName string) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == chatdomain.ModeEditing {
		return nil, apperr.Wrap(apperr.ErrValidation, "finish editing before uploading")
	}
	if c.mode == chatdomain.ModeUploading {
		return nil, apperr.Wrap(apperr.ErrValidation, "upload already in progress")
	}

	upCtx, cancel := context.WithCancel(ctx)
	c.mode = chatdomain.ModeUploading
	c.uploadName = fileName
	c.uploadProgress = 0
	c.cancelUpload = cancel
	c.pushStateLocked()
	return upCtx, nil
}

// SetUploadProgress monotonic progress fraction in [0,1]
func (c *Composer) SetUploadProgress(frac float64) {
	c.mu.Lock()
	if c.mode == chatdomain.ModeUploading && frac > c.uploadProgress {
		c.uploadProgress = frac
		c.pushStateLocked()
	}
	c.mu.Unlock()
}

// FinishUpload leave uploading. The pending reply survives a successful
// upload so the sent attachment still carries its quote.
func (c *Composer) FinishUpload(success bool) {
	c.mu.Lock()
	if c.mode == chatdomain.ModeUploading {
		c.mode = chatdomain.ModeIdle
		if c.replyTo != nil {
			c.mode = chatdomain.ModeReplying
		}
		if !success {
			c.resetLocked()
		}
		c.uploadName = ""
		c.uploadProgress = 0
		c.cancelUpload = nil
		c.pushStateLocked()
	}
	c.mu.Unlock()
}

// Close stop timers and flip the typing flag off, used on chat switch,
// logout and connection teardown
func (c *Composer) Close() {
	c.StopTyping()
}
