package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Button labels shown on the reply keyboards. The boundary maps them to
// tagged commands so the workflow's transitions stay data-driven.
const (
	btnStatus     = "🔄 Status"
	btnChangeTime = "⏰ Change time"
	btnEnable     = "✅ Enable autopost"
	btnDisable    = "⛔ Disable autopost"
	btnCreate     = "📝 Create post"
	btnHelp       = "ℹ️ Help"

	btnPublish    = "✅ Publish"
	btnRegenerate = "🔄 Regenerate"
	btnEdit       = "✏️ Edit"
	btnAddMedia   = "📷 Add media"
	btnCancel     = "🚫 Cancel"
	btnPostpone   = "⏱ Postpone"
)

var buttonCommands = map[string]Command{
	btnStatus:     CommandStatus,
	btnChangeTime: CommandChangeTime,
	btnEnable:     CommandEnable,
	btnDisable:    CommandDisable,
	btnCreate:     CommandCreate,
	btnHelp:       CommandHelp,
	btnPublish:    CommandApprove,
	btnRegenerate: CommandRegenerate,
	btnEdit:       CommandEdit,
	btnAddMedia:   CommandAddMedia,
	btnCancel:     CommandCancel,
	btnPostpone:   CommandPostpone,
	"/start":      CommandStart,
	"/help":       CommandHelp,
	"/done":       CommandMediaDone,
}

// BotHandler routes inbound Telegram updates: private messages become
// workflow commands or sub-dialog input, everything else feeds the
// correlation buffer.
type BotHandler struct {
	cfg      *Config
	workflow *ApprovalWorkflow
	gateway  *TelegramGateway
}

func NewBotHandler(cfg *Config, workflow *ApprovalWorkflow, gateway *TelegramGateway) *BotHandler {
	return &BotHandler{
		cfg:      cfg,
		workflow: workflow,
		gateway:  gateway,
	}
}

func (h *BotHandler) RegisterCommands(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.handleCommandUpdate)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, h.handleCommandUpdate)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/done", bot.MatchTypeExact, h.handleCommandUpdate)
}

func (h *BotHandler) handleCommandUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.HandleUpdate(ctx, b, update)
}

func (h *BotHandler) HandleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return
	}

	// Channel and discussion-group traffic only feeds the correlation buffer
	if msg.Chat.Type != "private" {
		h.gateway.ObserveMessage(msg)
		return
	}
	if msg.From == nil {
		return
	}

	op := Operator{ID: msg.From.ID, Name: senderName(msg.From)}

	if media, ok := extractMediaRef(msg); ok {
		if h.workflow.Dialog(op.ID) == DialogAwaitingMedia {
			h.workflow.AddMedia(ctx, op, media)
		} else {
			slog.Warn("Unexpected media message", "user_id", op.ID)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if cmd, ok := buttonCommands[text]; ok {
		h.workflow.HandleCommand(ctx, op, cmd)
		return
	}

	switch h.workflow.Dialog(op.ID) {
	case DialogAwaitingEdit:
		h.workflow.ApplyEdit(ctx, op, msg.Text)
	case DialogAwaitingTime:
		h.workflow.ApplyTime(ctx, op, text)
	case DialogAwaitingMedia:
		slog.Warn("Expected media, got text", "user_id", op.ID)
	default:
		slog.Warn("Unhandled message", "user_id", op.ID, "text", text)
	}
}

// extractMediaRef picks the largest photo size, or the video, from a message.
func extractMediaRef(msg *models.Message) (MediaRef, bool) {
	if len(msg.Photo) > 0 {
		return MediaRef{Kind: MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}, true
	}
	if msg.Video != nil {
		return MediaRef{Kind: MediaVideo, FileID: msg.Video.FileID}, true
	}
	return MediaRef{}, false
}

func senderName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "Unknown"
}
