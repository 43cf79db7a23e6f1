package main

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summarizerReply struct {
	text string
	err  error
}

// scriptedSummarizer plays back canned replies in call order.
type scriptedSummarizer struct {
	replies []summarizerReply
	calls   int
}

func (s *scriptedSummarizer) Complete(_ context.Context, _ string, _ bool) (string, error) {
	if s.calls >= len(s.replies) {
		return "", nil
	}
	r := s.replies[s.calls]
	s.calls++
	return r.text, r.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Broadcast(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func testArticles(n int) []Article {
	articles := make([]Article, 0, n)
	for i := 0; i < n; i++ {
		articles = append(articles, Article{
			URL:     "https://example.com/a" + string(rune('0'+i)),
			Title:   "Article " + string(rune('0'+i)),
			Content: strings.Repeat("body ", 100),
		})
	}
	return articles
}

const validSelection = `{"selected":[0,1,2],"reason":"most interesting"}`

func TestComposeNoArticles(t *testing.T) {
	notifier := &recordingNotifier{}
	composer := NewPostComposer(&scriptedSummarizer{}, notifier)

	draft, err := composer.Compose(context.Background(), nil)

	require.ErrorIs(t, err, ErrNoArticles)
	assert.Nil(t, draft)
	assert.Len(t, notifier.all(), 1)
}

func TestComposeSelectsAvailableArticles(t *testing.T) {
	for _, n := range []int{1, 2} {
		sum := &scriptedSummarizer{replies: []summarizerReply{
			{text: validSelection},
			{text: "short post"},
		}}
		composer := NewPostComposer(sum, &recordingNotifier{})

		draft, err := composer.Compose(context.Background(), testArticles(n))

		require.NoError(t, err)
		assert.Equal(t, "short post", draft.Text)
		assert.Len(t, draft.Sources, n, "selection must clamp to available count")
	}
}

func TestComposeSelectionFallback(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: "this is not json"},
		{text: "short post"},
	}}
	composer := NewPostComposer(sum, &recordingNotifier{})

	draft, err := composer.Compose(context.Background(), testArticles(4))

	require.NoError(t, err)
	require.Len(t, draft.Sources, 3)
	assert.Equal(t, "Article 0", draft.Sources[0].Title)
	assert.Equal(t, "Article 2", draft.Sources[2].Title)
}

func TestComposeLengthGateExhausted(t *testing.T) {
	long := strings.Repeat("x", 1025)
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: validSelection}, {text: long},
		{text: validSelection}, {text: long},
		{text: validSelection}, {text: long},
	}}
	notifier := &recordingNotifier{}
	composer := NewPostComposer(sum, notifier)

	draft, err := composer.Compose(context.Background(), testArticles(3))

	assert.Nil(t, draft)
	var tooLong *TooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 1025, tooLong.Length)
	assert.Equal(t, 3, tooLong.Attempts)
	// two retry notices plus the final failure
	assert.Len(t, notifier.all(), 3)
}

func TestComposeSecondAttemptSucceeds(t *testing.T) {
	exact := strings.Repeat("y", 1024)
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{text: validSelection}, {text: strings.Repeat("x", 1025)},
		{text: validSelection}, {text: exact},
	}}
	notifier := &recordingNotifier{}
	composer := NewPostComposer(sum, notifier)

	draft, err := composer.Compose(context.Background(), testArticles(3))

	require.NoError(t, err)
	assert.Equal(t, exact, draft.Text)
	assert.Len(t, notifier.all(), 1)
}

func TestComposeTimeoutConsumesAttempt(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{err: ErrSummarizerTimeout},
		{text: validSelection}, {text: "short post"},
	}}
	composer := NewPostComposer(sum, &recordingNotifier{})

	draft, err := composer.Compose(context.Background(), testArticles(3))

	require.NoError(t, err)
	assert.Equal(t, "short post", draft.Text)
	assert.Equal(t, 3, sum.calls)
}

func TestComposeUnexpectedErrorFails(t *testing.T) {
	sum := &scriptedSummarizer{replies: []summarizerReply{
		{err: assert.AnError},
	}}
	notifier := &recordingNotifier{}
	composer := NewPostComposer(sum, notifier)

	_, err := composer.Compose(context.Background(), testArticles(3))

	var cerr *ComposerError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "selection", cerr.Stage)
	assert.Len(t, notifier.all(), 1)
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		available int
		want      []int
	}{
		{"valid subset", `{"selected":[2,0],"reason":"r"}`, 5, []int{2, 0}},
		{"out of range filtered", `{"selected":[7,1],"reason":"r"}`, 3, []int{1}},
		{"too many clamped", `{"selected":[0,1,2,3,4],"reason":"r"}`, 5, []int{0, 1, 2}},
		{"all invalid falls back", `{"selected":[9],"reason":"r"}`, 2, []int{0, 1}},
		{"garbage falls back", `nope`, 5, []int{0, 1, 2}},
		{"duplicates removed", `{"selected":[1,1,1],"reason":"r"}`, 3, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSelection(tt.answer, tt.available))
		})
	}
}
