package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard KeyboardKind
}

type publishedGroup struct {
	media   []MediaRef
	caption string
}

type fakeGateway struct {
	mu             sync.Mutex
	sent           []sentMessage
	publishedTexts []string
	publishedGroup *publishedGroup
	publishResult  PublishResult
	publishErr     error
	linkedChatID   int64
	hasLinked      bool
	updates        []InboundMessage
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, text string, keyboard KeyboardKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func (g *fakeGateway) PublishText(_ context.Context, text string) (*PublishResult, error) {
	if g.publishErr != nil {
		return nil, g.publishErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishedTexts = append(g.publishedTexts, text)
	res := g.publishResult
	return &res, nil
}

func (g *fakeGateway) PublishMediaGroup(_ context.Context, media []MediaRef, caption string) (*PublishResult, error) {
	if g.publishErr != nil {
		return nil, g.publishErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishedGroup = &publishedGroup{media: append([]MediaRef(nil), media...), caption: caption}
	res := g.publishResult
	return &res, nil
}

func (g *fakeGateway) LinkedDiscussionChat(_ context.Context) (int64, bool) {
	return g.linkedChatID, g.hasLinked
}

func (g *fakeGateway) RecentUpdates(_ context.Context, limit int, _ time.Duration) []InboundMessage {
	if len(g.updates) > limit {
		return g.updates[:limit]
	}
	return g.updates
}

func (g *fakeGateway) sentTexts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	texts := make([]string, 0, len(g.sent))
	for _, m := range g.sent {
		texts = append(texts, m.text)
	}
	return texts
}

type fakeStore struct {
	mu        sync.Mutex
	inserted  []PostRecord
	insertErr error
	nextID    int64
	recent    []*PostRecord
	recentErr error
}

func (s *fakeStore) Insert(_ context.Context, rec PostRecord) (*PostRecord, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = time.Now()
	s.inserted = append(s.inserted, rec)
	return &rec, nil
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (*PostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inserted {
		if s.inserted[i].ID == id {
			rec := s.inserted[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetRepliesByParent(_ context.Context, _ int64) ([]*PostRecord, error) {
	return nil, nil
}

func (s *fakeStore) Update(_ context.Context, _ int64, _ map[string]any) (*PostRecord, error) {
	return nil, nil
}

func (s *fakeStore) RecentPosts(_ context.Context, limit int) ([]*PostRecord, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	if len(s.recent) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

type fakeSource struct {
	articles []Article
}

func (s *fakeSource) FetchListing(_ context.Context) ([]Article, error) {
	return s.articles, nil
}

type workflowFixture struct {
	cfg      *Config
	session  *SessionState
	gateway  *fakeGateway
	store    *fakeStore
	sched    *Scheduler
	workflow *ApprovalWorkflow
}

func newWorkflowFixture(t *testing.T, sum Summarizer) *workflowFixture {
	t.Helper()

	cfg := &Config{
		AdminIDs: []int64{1, 2},
		Timezone: "UTC",
	}
	gateway := &fakeGateway{publishResult: PublishResult{MessageID: 77}}
	store := &fakeStore{}
	session := NewSessionState()
	notifier := NewAdminNotifier(gateway, cfg)
	composer := NewPostComposer(sum, notifier)
	source := &fakeSource{articles: testArticles(3)}

	workflow := NewApprovalWorkflow(cfg, session, composer, source, gateway, store, notifier)
	sched := NewScheduler(time.UTC, 20, 0, false, workflow.ProposeScheduled)
	workflow.SetScheduler(sched)

	return &workflowFixture{
		cfg:      cfg,
		session:  session,
		gateway:  gateway,
		store:    store,
		sched:    sched,
		workflow: workflow,
	}
}

var opAlice = Operator{ID: 1, Name: "Alice"}

func seedDraft(f *workflowFixture, media ...MediaRef) {
	f.session.SetDraft(&Draft{
		Text:    "approved post text",
		Media:   media,
		Sources: []Article{{URL: "https://example.com/a", Title: "A"}},
	})
}

func TestApproveWithoutDraft(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})

	f.workflow.Approve(context.Background(), opAlice)

	assert.Empty(t, f.gateway.publishedTexts)
	assert.Nil(t, f.gateway.publishedGroup)
	assert.Empty(t, f.store.inserted)
	require.Len(t, f.gateway.sent, 1)
	assert.Contains(t, f.gateway.sent[0].text, "No post to publish")
}

func TestApproveTextPost(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	seedDraft(f)

	f.workflow.Approve(context.Background(), opAlice)

	require.Len(t, f.gateway.publishedTexts, 1)
	assert.Equal(t, "approved post text", f.gateway.publishedTexts[0])
	require.Len(t, f.store.inserted, 1)
	rec := f.store.inserted[0]
	assert.True(t, rec.IsPost)
	assert.Equal(t, int64(1), rec.AuthorID)
	assert.Equal(t, "Alice", rec.AuthorName)
	require.NotNil(t, rec.SourceURLs)
	assert.Contains(t, *rec.SourceURLs, "https://example.com/a")
	assert.Nil(t, rec.DiscussionMessageID)
	assert.False(t, f.session.HasDraft())

	// success notification reaches every operator, sources go to the approver
	texts := f.gateway.sentTexts()
	assert.Contains(t, strings.Join(texts, "\n"), "Post saved (ID: 1)")
	assert.Contains(t, strings.Join(texts, "\n"), "Sources:")
}

func TestApproveMediaGroupCaptionsFirstItem(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	f.gateway.publishResult = PublishResult{MessageID: 5, MediaGroupID: "g1"}
	seedDraft(f,
		MediaRef{Kind: MediaPhoto, FileID: "p1"},
		MediaRef{Kind: MediaVideo, FileID: "v1"},
	)

	f.workflow.Approve(context.Background(), opAlice)

	require.NotNil(t, f.gateway.publishedGroup)
	assert.Len(t, f.gateway.publishedGroup.media, 2)
	assert.Equal(t, "approved post text", f.gateway.publishedGroup.caption)
	assert.Empty(t, f.gateway.publishedTexts)
	assert.False(t, f.session.HasDraft())
}

func TestApproveCorrelatesDiscussionMessage(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	f.gateway.hasLinked = true
	f.gateway.linkedChatID = -200
	f.gateway.updates = []InboundMessage{
		{MessageID: 10, ChatID: -999, Text: "approved post text"},
		{MessageID: 11, ChatID: -200, Text: "approved post text"},
	}
	seedDraft(f)

	f.workflow.Approve(context.Background(), opAlice)

	require.Len(t, f.store.inserted, 1)
	rec := f.store.inserted[0]
	require.NotNil(t, rec.DiscussionMessageID)
	assert.Equal(t, int64(11), *rec.DiscussionMessageID)
}

func TestApproveForeignKeyViolation(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	f.store.insertErr = &ForeignKeyError{ParentID: 42}
	seedDraft(f)

	f.workflow.Approve(context.Background(), opAlice)

	texts := strings.Join(f.gateway.sentTexts(), "\n")
	assert.Contains(t, texts, "parent_id=42 does not exist")
	assert.False(t, f.session.HasDraft(), "session must clear even when persistence fails")
}

func TestApprovePublishFailureReturnsToIdle(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	f.gateway.publishErr = assert.AnError
	seedDraft(f)

	f.workflow.Approve(context.Background(), opAlice)

	assert.Empty(t, f.store.inserted)
	assert.False(t, f.session.HasDraft())
	assert.Contains(t, strings.Join(f.gateway.sentTexts(), "\n"), "Publish error")
}

func TestCancelAfterCreateReturnsToIdle(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: validSelection},
		{text: "generated post"},
	}}
	f := newWorkflowFixture(t, sum)

	f.workflow.CreatePost(context.Background(), opAlice, false)
	require.True(t, f.session.HasDraft())

	f.workflow.Cancel(context.Background(), opAlice)

	assert.False(t, f.session.HasDraft())
	assert.Nil(t, f.session.Draft())
}

func TestCreatePostNotifiesOtherOperators(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: validSelection},
		{text: "generated post"},
	}}
	f := newWorkflowFixture(t, sum)

	f.workflow.CreatePost(context.Background(), opAlice, false)

	var toOther int
	for _, m := range f.gateway.sent {
		if m.chatID == 2 {
			toOther++
			assert.Contains(t, m.text, "New post from Alice")
			assert.Equal(t, KeyboardApproval, m.keyboard)
		}
	}
	assert.Equal(t, 1, toOther)
}

func TestCreatePostRejectsConcurrentComposition(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	require.NoError(t, f.session.BeginCompose())
	defer f.session.EndCompose()

	f.workflow.CreatePost(context.Background(), opAlice, false)

	assert.Contains(t, strings.Join(f.gateway.sentTexts(), "\n"), "already being generated")
	assert.False(t, f.session.HasDraft())
}

func TestUnauthorizedSenderRejected(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	seedDraft(f)
	intruder := Operator{ID: 99, Name: "Mallory"}

	f.workflow.HandleCommand(context.Background(), intruder, CommandApprove)

	require.Len(t, f.gateway.sent, 1)
	assert.Contains(t, f.gateway.sent[0].text, "Access denied")
	assert.Empty(t, f.gateway.publishedTexts)
	assert.True(t, f.session.HasDraft(), "state must not change")
}

func TestEditFlowReplacesTextVerbatim(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	seedDraft(f)
	ctx := context.Background()

	f.workflow.RequestEdit(ctx, opAlice)
	assert.Equal(t, DialogAwaitingEdit, f.workflow.Dialog(opAlice.ID))

	f.workflow.ApplyEdit(ctx, opAlice, "  hand-written text  ")

	assert.Equal(t, DialogNone, f.workflow.Dialog(opAlice.ID))
	draft := f.session.Draft()
	require.NotNil(t, draft)
	assert.Equal(t, "  hand-written text  ", draft.Text)
}

func TestMediaFlowAppendsInOrder(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	seedDraft(f)
	ctx := context.Background()

	f.workflow.RequestMedia(ctx, opAlice)
	f.workflow.AddMedia(ctx, opAlice, MediaRef{Kind: MediaPhoto, FileID: "p1"})
	f.workflow.AddMedia(ctx, opAlice, MediaRef{Kind: MediaVideo, FileID: "v1"})
	f.workflow.FinishMedia(ctx, opAlice)

	draft := f.session.Draft()
	require.NotNil(t, draft)
	require.Len(t, draft.Media, 2)
	assert.Equal(t, "p1", draft.Media[0].FileID)
	assert.Equal(t, "v1", draft.Media[1].FileID)
	assert.Equal(t, DialogNone, f.workflow.Dialog(opAlice.ID))
}

func TestPostponeKeepsDraft(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	seedDraft(f)

	f.workflow.Postpone(context.Background(), opAlice)

	assert.True(t, f.session.HasDraft())
}

func TestApplyTimeRejectsBadFormat(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	f.workflow.RequestTime(context.Background(), opAlice)

	f.workflow.ApplyTime(context.Background(), opAlice, "25:99")

	hour, minute := f.sched.PostTime()
	assert.Equal(t, 20, hour)
	assert.Equal(t, 0, minute)
	assert.Contains(t, strings.Join(f.gateway.sentTexts(), "\n"), "Invalid time format")
}

func TestApplyTimeReschedules(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	defer f.sched.Stop()
	f.workflow.RequestTime(context.Background(), opAlice)

	f.workflow.ApplyTime(context.Background(), opAlice, "08:30")

	hour, minute := f.sched.PostTime()
	assert.Equal(t, 8, hour)
	assert.Equal(t, 30, minute)
	assert.Equal(t, DialogNone, f.workflow.Dialog(opAlice.ID))
}

func TestSetAutopostIdempotentMessages(t *testing.T) {
	f := newWorkflowFixture(t, &scriptedSummarizer{})
	ctx := context.Background()

	f.workflow.SetAutopost(ctx, opAlice, true)
	f.workflow.SetAutopost(ctx, opAlice, true)
	f.workflow.SetAutopost(ctx, opAlice, false)
	f.workflow.SetAutopost(ctx, opAlice, false)

	texts := f.gateway.sentTexts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[0], "enabled!")
	assert.Contains(t, texts[1], "already enabled")
	assert.Contains(t, texts[2], "disabled!")
	assert.Contains(t, texts[3], "already disabled")
}

func TestProposeScheduledBroadcastsToAllOperators(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: validSelection},
		{text: "scheduled post"},
	}}
	f := newWorkflowFixture(t, sum)

	f.workflow.ProposeScheduled(context.Background())

	require.True(t, f.session.HasDraft())
	var proposals int
	for _, m := range f.gateway.sent {
		if strings.Contains(m.text, "New post for approval") {
			proposals++
			assert.Equal(t, KeyboardApproval, m.keyboard)
		}
	}
	assert.Equal(t, 2, proposals)
}
