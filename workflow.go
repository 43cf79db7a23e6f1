package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	correlationDelay = 2 * time.Second
	correlationWait  = 3 * time.Second
	correlationLimit = 10
)

// AdminNotifier fans a message out to every operator. Delivery is attempted
// independently per recipient; one failure never aborts the rest.
type AdminNotifier struct {
	gateway ChatGateway
	admins  []int64
}

var _ Notifier = (*AdminNotifier)(nil)

func NewAdminNotifier(gateway ChatGateway, cfg *Config) *AdminNotifier {
	return &AdminNotifier{gateway: gateway, admins: cfg.AdminIDs}
}

func (n *AdminNotifier) Broadcast(ctx context.Context, text string) {
	n.BroadcastExcept(ctx, 0, text, KeyboardMain)
}

// BroadcastExcept delivers text to all operators except skip (0 skips none).
func (n *AdminNotifier) BroadcastExcept(ctx context.Context, skip int64, text string, keyboard KeyboardKind) {
	for _, id := range n.admins {
		if id == skip {
			continue
		}
		if err := n.gateway.SendText(ctx, id, text, keyboard); err != nil {
			slog.Error("Failed to notify operator", "admin_id", id, "error", err)
		}
	}
}

// ApprovalWorkflow is the state machine that takes a composed draft through
// edit/media/regenerate/approve/cancel/postpone transitions and, on approval,
// performs publish + discussion correlation + persistence + notification.
// The draft itself lives in SessionState; per-operator sub-dialogs (awaiting
// edited text, media, or a new posting time) live here.
type ApprovalWorkflow struct {
	cfg      *Config
	session  *SessionState
	composer *PostComposer
	source   ArticleSource
	gateway  ChatGateway
	store    PostStore
	notifier *AdminNotifier
	sched    *Scheduler

	mu      sync.Mutex
	dialogs map[int64]DialogState
}

func NewApprovalWorkflow(cfg *Config, session *SessionState, composer *PostComposer,
	source ArticleSource, gateway ChatGateway, store PostStore, notifier *AdminNotifier) *ApprovalWorkflow {
	return &ApprovalWorkflow{
		cfg:      cfg,
		session:  session,
		composer: composer,
		source:   source,
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		dialogs:  make(map[int64]DialogState),
	}
}

// SetScheduler attaches the scheduler once it is constructed; the scheduler's
// fire callback needs the workflow, which needs the scheduler for status and
// reconfiguration commands.
func (w *ApprovalWorkflow) SetScheduler(s *Scheduler) {
	w.sched = s
}

func (w *ApprovalWorkflow) Dialog(userID int64) DialogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dialogs[userID]
}

func (w *ApprovalWorkflow) setDialog(userID int64, state DialogState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if state == DialogNone {
		delete(w.dialogs, userID)
		return
	}
	w.dialogs[userID] = state
}

// authorize rejects senders outside the operator allow-list with a
// user-visible message and no state change.
func (w *ApprovalWorkflow) authorize(ctx context.Context, op Operator) bool {
	if w.cfg.IsAdmin(op.ID) {
		return true
	}
	slog.Warn("Unauthorized action rejected", "user_id", op.ID)
	if err := w.gateway.SendText(ctx, op.ID, "❌ Access denied", KeyboardNone); err != nil {
		slog.Error("Failed to send rejection", "user_id", op.ID, "error", err)
	}
	return false
}

// HandleCommand dispatches a boundary-mapped command for an operator.
func (w *ApprovalWorkflow) HandleCommand(ctx context.Context, op Operator, cmd Command) {
	if !w.authorize(ctx, op) {
		return
	}

	switch cmd {
	case CommandStart:
		w.Greet(ctx, op)
	case CommandHelp:
		w.Help(ctx, op)
	case CommandStatus:
		w.Status(ctx, op)
	case CommandCreate, CommandRegenerate:
		w.CreatePost(ctx, op, cmd == CommandRegenerate)
	case CommandApprove:
		w.Approve(ctx, op)
	case CommandEdit:
		w.RequestEdit(ctx, op)
	case CommandAddMedia:
		w.RequestMedia(ctx, op)
	case CommandMediaDone:
		w.FinishMedia(ctx, op)
	case CommandCancel:
		w.Cancel(ctx, op)
	case CommandPostpone:
		w.Postpone(ctx, op)
	case CommandChangeTime:
		w.RequestTime(ctx, op)
	case CommandEnable:
		w.SetAutopost(ctx, op, true)
	case CommandDisable:
		w.SetAutopost(ctx, op, false)
	default:
		slog.Warn("Unknown command", "user_id", op.ID)
	}
}

func (w *ApprovalWorkflow) Greet(ctx context.Context, op Operator) {
	hour, minute := w.sched.PostTime()
	text := fmt.Sprintf("🤖 Post publishing bot\nCurrent posting time: %02d:%02d %s\n\nUse the buttons below to control the bot",
		hour, minute, w.cfg.Timezone)
	w.send(ctx, op.ID, text, KeyboardMain)
}

func (w *ApprovalWorkflow) Help(ctx context.Context, op Operator) {
	text := "📚 Command reference:\n\n" +
		btnStatus + " - current bot state\n" +
		btnChangeTime + " - set a new posting time\n" +
		btnEnable + " - enable automatic posting\n" +
		btnDisable + " - disable automatic posting\n" +
		btnCreate + " - generate and review a post now\n\n" +
		"While a post is pending:\n" +
		btnPublish + " - send the post to the channel\n" +
		btnRegenerate + " - generate a new variant\n" +
		btnEdit + " - replace the text manually\n" +
		btnAddMedia + " - attach photos/videos\n" +
		btnCancel + " - drop the current post\n" +
		btnPostpone + " - keep it for later"
	w.send(ctx, op.ID, text, KeyboardMain)
}

func (w *ApprovalWorkflow) Status(ctx context.Context, op Operator) {
	state := "🔴 Disabled"
	if w.sched.Enabled() {
		state = "🟢 Enabled"
	}
	next := w.sched.NextFireTime(time.Now())
	text := fmt.Sprintf("Status: %s\nNext post: %s %s",
		state, next.Format("02.01.2006 at 15:04"), w.cfg.Timezone)
	w.send(ctx, op.ID, text, KeyboardMain)
}

// CreatePost runs a composition cycle on demand and offers the draft for
// approval. Regenerate is the same transition; either way previous media is
// dropped with the replaced draft. Concurrent compositions are rejected.
func (w *ApprovalWorkflow) CreatePost(ctx context.Context, op Operator, regenerate bool) {
	if err := w.session.BeginCompose(); err != nil {
		w.send(ctx, op.ID, "⚠️ A post is already being generated, please wait", KeyboardNone)
		return
	}
	defer w.session.EndCompose()

	notice := "🔄 Collecting articles and generating a post..."
	if regenerate {
		notice = "🔄 Generating a new variant..."
	}
	w.send(ctx, op.ID, notice, KeyboardRemove)

	draft, err := w.composeDraft(ctx)
	if err != nil {
		w.send(ctx, op.ID, "❌ Failed to create a post. Try again later.", KeyboardMain)
		return
	}

	w.session.SetDraft(draft)
	w.send(ctx, op.ID, "📝 Post ready for approval:\n\n"+draft.Text, KeyboardApproval)
	w.notifier.BroadcastExcept(ctx, op.ID,
		fmt.Sprintf("📝 New post from %s:\n\n%s", op.Name, draft.Text), KeyboardApproval)
}

// ProposeScheduled is the scheduler's daily fire: compose and broadcast the
// draft to every operator for approval. Composition failures are already
// reported by the composer's own notifications, so nothing further happens.
func (w *ApprovalWorkflow) ProposeScheduled(ctx context.Context) {
	if err := w.session.BeginCompose(); err != nil {
		slog.Warn("Scheduled composition skipped", "error", err)
		return
	}
	defer w.session.EndCompose()

	draft, err := w.composeDraft(ctx)
	if err != nil {
		return
	}

	w.session.SetDraft(draft)
	w.notifier.BroadcastExcept(ctx, 0, "📝 New post for approval:\n\n"+draft.Text, KeyboardApproval)
}

func (w *ApprovalWorkflow) composeDraft(ctx context.Context) (*Draft, error) {
	articles, err := w.source.FetchListing(ctx)
	if err != nil {
		slog.Error("Listing fetch failed", "error", err)
	}
	return w.composer.Compose(ctx, articles)
}

// Approve publishes the pending draft to the channel, correlates the mirrored
// discussion message, persists provenance and notifies every operator. The
// session is cleared unconditionally once the channel publish has been
// attempted: publishing is irreversible, so a stale draft must never be
// re-offered even when the database write fails.
func (w *ApprovalWorkflow) Approve(ctx context.Context, op Operator) {
	draft := w.session.Draft()
	if draft == nil {
		w.send(ctx, op.ID, "❌ No post to publish", KeyboardMain)
		return
	}

	linkedChatID, hasLinked := w.gateway.LinkedDiscussionChat(ctx)
	if !hasLinked {
		w.send(ctx, op.ID, "⚠️ Discussion chat not found", KeyboardNone)
	}

	var (
		result *PublishResult
		err    error
	)
	if len(draft.Media) > 0 {
		result, err = w.gateway.PublishMediaGroup(ctx, draft.Media, draft.Text)
	} else {
		result, err = w.gateway.PublishText(ctx, draft.Text)
	}
	if err != nil {
		slog.Error("Publish failed", "error", err)
		w.notifier.Broadcast(ctx, fmt.Sprintf("❌ Publish error: %v", err))
		w.session.Clear()
		w.setDialog(op.ID, DialogNone)
		return
	}
	slog.Info("Post published to channel", "message_id", result.MessageID, "media_group_id", result.MediaGroupID)

	var discussionID *int64
	if hasLinked {
		discussionID = w.correlate(ctx, linkedChatID, draft.Text, result.MediaGroupID)
	}

	record, err := w.store.Insert(ctx, PostRecord{
		DiscussionMessageID: discussionID,
		Text:                draft.Text,
		SourceURLs:          sourceURLsJSON(draft.Sources),
		AuthorID:            op.ID,
		AuthorName:          op.Name,
		IsPost:              true,
	})

	var notification string
	var fkErr *ForeignKeyError
	switch {
	case err == nil:
		notification = fmt.Sprintf("✅ Post saved (ID: %d)", record.ID)
		slog.Info("Post record inserted", "id", record.ID)
	case errors.As(err, &fkErr):
		notification = fmt.Sprintf("❌ Failed to save post: parent_id=%d does not exist", fkErr.ParentID)
		slog.Error("Post insert rejected", "parent_id", fkErr.ParentID)
	default:
		notification = fmt.Sprintf("❌ Failed to save post: %v", err)
		slog.Error("Post insert failed", "error", err)
	}
	w.notifier.Broadcast(ctx, notification)

	if len(draft.Sources) > 0 {
		w.send(ctx, op.ID, formatSources(draft.Sources), KeyboardNone)
	}

	w.session.Clear()
	w.setDialog(op.ID, DialogNone)
}

// correlate waits a fixed delay for the discussion chat to mirror the channel
// post, then scans recent updates for a message matching the media group id
// or the exact text. A miss is informational, not an error.
func (w *ApprovalWorkflow) correlate(ctx context.Context, linkedChatID int64, text, mediaGroupID string) *int64 {
	if !sleepCtx(ctx, correlationDelay) {
		return nil
	}

	for _, msg := range w.gateway.RecentUpdates(ctx, correlationLimit, correlationWait) {
		if msg.ChatID != linkedChatID {
			continue
		}
		if (mediaGroupID != "" && msg.MediaGroupID == mediaGroupID) || msg.Text == text {
			id := int64(msg.MessageID)
			slog.Info("Found discussion message", "discussion_message_id", id)
			return &id
		}
	}

	slog.Info("No matching discussion message found")
	return nil
}

func (w *ApprovalWorkflow) RequestEdit(ctx context.Context, op Operator) {
	if !w.session.HasDraft() {
		w.send(ctx, op.ID, "❌ No pending post", KeyboardMain)
		return
	}
	w.setDialog(op.ID, DialogAwaitingEdit)
	w.send(ctx, op.ID, "✏️ Send the new post text:", KeyboardRemove)
}

// ApplyEdit replaces the draft text verbatim with the operator's message.
// The edited text is intentionally not re-validated against the publish
// length limit; an over-long edit is logged so the gap stays visible.
func (w *ApprovalWorkflow) ApplyEdit(ctx context.Context, op Operator, text string) {
	if !w.authorize(ctx, op) {
		return
	}
	if err := w.session.ReplaceText(text); err != nil {
		w.setDialog(op.ID, DialogNone)
		w.send(ctx, op.ID, "❌ No pending post", KeyboardMain)
		return
	}
	if n := utf8.RuneCountInString(text); n > maxPostRunes {
		slog.Warn("Edited text exceeds publish limit", "length", n, "limit", maxPostRunes)
	}
	w.setDialog(op.ID, DialogNone)
	w.send(ctx, op.ID, "📝 Post ready for approval:\n\n"+text, KeyboardApproval)
}

func (w *ApprovalWorkflow) RequestMedia(ctx context.Context, op Operator) {
	if !w.session.HasDraft() {
		w.send(ctx, op.ID, "❌ No pending post", KeyboardMain)
		return
	}
	w.setDialog(op.ID, DialogAwaitingMedia)
	w.send(ctx, op.ID, "📎 Attach photos or videos (multiple allowed):", KeyboardRemove)
}

// AddMedia appends one attachment in arrival order.
func (w *ApprovalWorkflow) AddMedia(ctx context.Context, op Operator, media MediaRef) {
	if !w.authorize(ctx, op) {
		return
	}
	if err := w.session.AppendMedia(media); err != nil {
		w.setDialog(op.ID, DialogNone)
		w.send(ctx, op.ID, "❌ No pending post", KeyboardMain)
		return
	}
	w.send(ctx, op.ID, "📎 Media attached to the post. Send more or /done to finish.", KeyboardRemove)
}

func (w *ApprovalWorkflow) FinishMedia(ctx context.Context, op Operator) {
	if !w.authorize(ctx, op) {
		return
	}
	w.setDialog(op.ID, DialogNone)
	draft := w.session.Draft()
	if draft == nil {
		w.send(ctx, op.ID, "❌ No pending post", KeyboardMain)
		return
	}
	w.send(ctx, op.ID, "📝 Post with media for approval:\n\n"+draft.Text, KeyboardApproval)
}

// Cancel discards the draft and media unconditionally from any non-idle state.
func (w *ApprovalWorkflow) Cancel(ctx context.Context, op Operator) {
	w.session.Clear()
	w.setDialog(op.ID, DialogNone)
	w.send(ctx, op.ID, "❌ Publication cancelled", KeyboardMain)
}

// Postpone acknowledges without clearing the draft. There is no automatic
// resumption; a later create/regenerate replaces the kept draft.
func (w *ApprovalWorkflow) Postpone(ctx context.Context, op Operator) {
	w.send(ctx, op.ID, "⏱ Post saved for later", KeyboardMain)
}

func (w *ApprovalWorkflow) RequestTime(ctx context.Context, op Operator) {
	w.setDialog(op.ID, DialogAwaitingTime)
	w.send(ctx, op.ID, "⏰ Send the new posting time as HH:MM (e.g. 20:00):", KeyboardRemove)
}

// ApplyTime validates the HH:MM input and reschedules the daily timer.
// Invalid input is rejected at the boundary with no state mutation.
func (w *ApprovalWorkflow) ApplyTime(ctx context.Context, op Operator, text string) {
	if !w.authorize(ctx, op) {
		return
	}
	hour, minute, err := ParsePostTime(text)
	if err != nil {
		w.send(ctx, op.ID, "❌ Invalid time format. Use HH:MM (e.g. 20:00)", KeyboardNone)
		return
	}
	w.sched.Reschedule(hour, minute)
	w.setDialog(op.ID, DialogNone)
	w.send(ctx, op.ID, fmt.Sprintf("✅ Posting time changed to %02d:%02d %s", hour, minute, w.cfg.Timezone), KeyboardMain)
}

func (w *ApprovalWorkflow) SetAutopost(ctx context.Context, op Operator, enabled bool) {
	changed := w.sched.SetEnabled(enabled)
	var text string
	switch {
	case enabled && changed:
		text = "✅ Autoposting enabled!"
	case enabled:
		text = "ℹ️ Autoposting is already enabled"
	case changed:
		text = "⛔ Autoposting disabled!"
	default:
		text = "ℹ️ Autoposting is already disabled"
	}
	w.send(ctx, op.ID, text, KeyboardMain)
}

func (w *ApprovalWorkflow) send(ctx context.Context, chatID int64, text string, keyboard KeyboardKind) {
	if err := w.gateway.SendText(ctx, chatID, text, keyboard); err != nil {
		slog.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
}

func sourceURLsJSON(sources []Article) *string {
	if len(sources) == 0 {
		return nil
	}
	urls := lo.Map(sources, func(a Article, _ int) string { return a.URL })
	data, err := json.Marshal(urls)
	if err != nil {
		slog.Error("Failed to serialize source URLs", "error", err)
		return nil
	}
	return lo.ToPtr(string(data))
}

func formatSources(sources []Article) string {
	var b strings.Builder
	b.WriteString("🔗 Sources:\n")
	for i, a := range sources {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, a.Title, a.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
