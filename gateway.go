package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/oops"
)

// KeyboardKind selects the reply keyboard attached to an outbound message.
type KeyboardKind int

const (
	KeyboardNone KeyboardKind = iota
	KeyboardMain
	KeyboardApproval
	KeyboardRemove
)

// ChatGateway carries outbound messages to operators and the channel, and
// exposes the transport lookups the publish algorithm needs. The workflow
// depends on this interface only, so tests can run against a stub.
type ChatGateway interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard KeyboardKind) error
	PublishText(ctx context.Context, text string) (*PublishResult, error)
	PublishMediaGroup(ctx context.Context, media []MediaRef, caption string) (*PublishResult, error)
	LinkedDiscussionChat(ctx context.Context) (int64, bool)
	RecentUpdates(ctx context.Context, limit int, wait time.Duration) []InboundMessage
}

const observedBufferSize = 50

// TelegramGateway implements ChatGateway over go-telegram/bot. It also keeps
// a small buffer of recently observed non-private messages; the discussion
// chat mirrors channel posts to the bot as regular updates, and that buffer
// is what the correlation step polls.
type TelegramGateway struct {
	bot       *bot.Bot
	channelID int64

	mu       sync.Mutex
	observed []InboundMessage
}

var _ ChatGateway = (*TelegramGateway)(nil)

func NewTelegramGateway(cfg *Config) *TelegramGateway {
	return &TelegramGateway{channelID: cfg.ChannelID}
}

// SetBot attaches the transport once the bot is constructed; the bot itself
// needs the update handlers, which need the gateway.
func (g *TelegramGateway) SetBot(b *bot.Bot) {
	g.bot = b
}

func (g *TelegramGateway) SendText(ctx context.Context, chatID int64, text string, keyboard KeyboardKind) error {
	if g.bot == nil {
		return oops.Errorf("bot not initialized")
	}
	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: replyMarkup(keyboard),
	})
	if err != nil {
		return oops.With("chat_id", chatID).Wrap(err)
	}
	return nil
}

func (g *TelegramGateway) PublishText(ctx context.Context, text string) (*PublishResult, error) {
	if g.bot == nil {
		return nil, oops.Errorf("bot not initialized")
	}
	msg, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: g.channelID,
		Text:   text,
	})
	if err != nil {
		return nil, oops.With("channel_id", g.channelID).Wrap(err)
	}
	return &PublishResult{MessageID: msg.ID}, nil
}

func (g *TelegramGateway) PublishMediaGroup(ctx context.Context, media []MediaRef, caption string) (*PublishResult, error) {
	if g.bot == nil {
		return nil, oops.Errorf("bot not initialized")
	}
	msgs, err := g.bot.SendMediaGroup(ctx, &bot.SendMediaGroupParams{
		ChatID: g.channelID,
		Media:  buildInputMedia(media, caption),
	})
	if err != nil {
		return nil, oops.With("channel_id", g.channelID, "items", len(media)).Wrap(err)
	}
	if len(msgs) == 0 {
		return nil, oops.Errorf("media group publish returned no messages")
	}
	return &PublishResult{
		MessageID:    msgs[0].ID,
		MediaGroupID: msgs[0].MediaGroupID,
	}, nil
}

// LinkedDiscussionChat resolves the channel's linked comments chat, if any.
func (g *TelegramGateway) LinkedDiscussionChat(ctx context.Context) (int64, bool) {
	if g.bot == nil {
		return 0, false
	}
	chat, err := g.bot.GetChat(ctx, &bot.GetChatParams{ChatID: g.channelID})
	if err != nil {
		slog.Error("Failed to get channel info", "channel_id", g.channelID, "error", err)
		return 0, false
	}
	if chat.LinkedChatID == 0 {
		slog.Warn("Channel has no linked discussion chat", "channel_id", g.channelID)
		return 0, false
	}
	slog.Info("Found linked discussion chat", "linked_chat_id", chat.LinkedChatID)
	return chat.LinkedChatID, true
}

// ObserveMessage records a non-private inbound message for later correlation.
func (g *TelegramGateway) ObserveMessage(msg *models.Message) {
	if msg == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.observed = append(g.observed, InboundMessage{
		MessageID:    msg.ID,
		ChatID:       msg.Chat.ID,
		Text:         text,
		MediaGroupID: msg.MediaGroupID,
	})
	if len(g.observed) > observedBufferSize {
		g.observed = g.observed[len(g.observed)-observedBufferSize:]
	}
}

// RecentUpdates returns up to limit recently observed messages, waiting up
// to wait for at least one to arrive. An empty result is the typed "nothing
// to correlate" outcome, not an error.
func (g *TelegramGateway) RecentUpdates(ctx context.Context, limit int, wait time.Duration) []InboundMessage {
	deadline := time.Now().Add(wait)
	for {
		g.mu.Lock()
		n := len(g.observed)
		if n > 0 || time.Now().After(deadline) {
			start := n - limit
			if start < 0 {
				start = 0
			}
			snapshot := append([]InboundMessage(nil), g.observed[start:]...)
			g.mu.Unlock()
			return snapshot
		}
		g.mu.Unlock()

		if !sleepCtx(ctx, 200*time.Millisecond) {
			return nil
		}
	}
}

func buildInputMedia(media []MediaRef, caption string) []models.InputMedia {
	items := make([]models.InputMedia, 0, len(media))
	for i, m := range media {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		switch m.Kind {
		case MediaVideo:
			items = append(items, &models.InputMediaVideo{
				Media:   m.FileID,
				Caption: itemCaption,
			})
		default:
			items = append(items, &models.InputMediaPhoto{
				Media:   m.FileID,
				Caption: itemCaption,
			})
		}
	}
	return items
}

func replyMarkup(kind KeyboardKind) models.ReplyMarkup {
	switch kind {
	case KeyboardMain:
		return mainKeyboard()
	case KeyboardApproval:
		return approvalKeyboard()
	case KeyboardRemove:
		return &models.ReplyKeyboardRemove{RemoveKeyboard: true}
	default:
		return nil
	}
}

func mainKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: btnStatus}, {Text: btnChangeTime}},
			{{Text: btnEnable}, {Text: btnDisable}},
			{{Text: btnCreate}, {Text: btnHelp}},
		},
		ResizeKeyboard:        true,
		InputFieldPlaceholder: "Choose an action",
	}
}

func approvalKeyboard() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: btnPublish}, {Text: btnRegenerate}},
			{{Text: btnEdit}, {Text: btnAddMedia}},
			{{Text: btnCancel}, {Text: btnPostpone}},
		},
		ResizeKeyboard: true,
	}
}
