package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	maxComposeAttempts = 3
	maxListedArticles  = 5
	maxUsedArticles    = 3
	maxPostRunes       = 1024
	targetPostRunes    = 800
	contentPreviewLen  = 300
)

// Notifier broadcasts a message to every operator. Per-recipient failures
// are logged and never abort the remaining recipients.
type Notifier interface {
	Broadcast(ctx context.Context, text string)
}

// PostComposer runs the two-stage selection/generation cycle against the
// Summarizer and enforces the publish length limit with bounded retries.
// The selection stage keeps the generation prompt small; the length gate
// exists because the publish target enforces a hard caption ceiling the
// model does not reliably respect.
type PostComposer struct {
	summarizer Summarizer
	notifier   Notifier
}

func NewPostComposer(summarizer Summarizer, notifier Notifier) *PostComposer {
	return &PostComposer{summarizer: summarizer, notifier: notifier}
}

type articleSelection struct {
	Selected []int  `json:"selected"`
	Reason   string `json:"reason"`
}

// Compose turns scraped articles into a ready-for-approval draft, or fails
// with ErrNoArticles, *TooLongError or *ComposerError. Every failure mode is
// broadcast to operators before returning; a timeout or over-long generation
// consumes one attempt out of the shared budget.
func (c *PostComposer) Compose(ctx context.Context, articles []Article) (*Draft, error) {
	if len(articles) == 0 {
		slog.Warn("No articles to compose from")
		c.notifier.Broadcast(ctx, "🚨 Bot error:\n\nno fresh articles to publish")
		return nil, ErrNoArticles
	}

	var lastLength int
	for attempt := 1; attempt <= maxComposeAttempts; attempt++ {
		selected, err := c.selectArticles(ctx, articles)
		if err != nil {
			if errors.Is(err, ErrSummarizerTimeout) {
				slog.Warn("Timeout during article selection", "attempt", attempt, "max", maxComposeAttempts)
				continue
			}
			cerr := &ComposerError{Stage: "selection", Err: err}
			c.notifier.Broadcast(ctx, fmt.Sprintf("🚨 Bot error:\n\n%v", cerr))
			return nil, cerr
		}

		text, err := c.generate(ctx, selected)
		if err != nil {
			if errors.Is(err, ErrSummarizerTimeout) {
				slog.Warn("Timeout during post generation", "attempt", attempt, "max", maxComposeAttempts)
				continue
			}
			cerr := &ComposerError{Stage: "generation", Err: err}
			c.notifier.Broadcast(ctx, fmt.Sprintf("🚨 Bot error:\n\n%v", cerr))
			return nil, cerr
		}

		length := utf8.RuneCountInString(text)
		if length <= maxPostRunes {
			slog.Info("Post composed", "length", length, "attempt", attempt, "articles", len(selected))
			return &Draft{Text: text, Sources: selected}, nil
		}

		lastLength = length
		slog.Warn("Generated post too long", "length", length, "attempt", attempt, "max", maxComposeAttempts)
		if attempt < maxComposeAttempts {
			c.notifier.Broadcast(ctx, fmt.Sprintf(
				"⚠️ Post is too long (%d chars). Trying to generate a shorter version (attempt %d/%d)...",
				length, attempt, maxComposeAttempts))
		}
	}

	err := &TooLongError{Length: lastLength, Attempts: maxComposeAttempts}
	slog.Error("Composition failed", "error", err)
	c.notifier.Broadcast(ctx, fmt.Sprintf("🚨 Bot error:\n\n%v", err))
	return nil, err
}

// selectArticles asks the model to pick the most interesting entries out of
// the first few titles. A malformed or missing answer falls back to the
// leading articles rather than failing the cycle.
func (c *PostComposer) selectArticles(ctx context.Context, articles []Article) ([]Article, error) {
	listed := lo.Slice(articles, 0, maxListedArticles)

	var prompt strings.Builder
	prompt.WriteString("Pick the 3 most interesting articles from the list below. ")
	prompt.WriteString("Return only a JSON object with keys: selected (indices of the chosen articles), ")
	prompt.WriteString("reason (short explanation of the choice).\n\n")
	for i, a := range listed {
		fmt.Fprintf(&prompt, "%d. %s\n", i, a.Title)
	}

	answer, err := c.summarizer.Complete(ctx, prompt.String(), true)
	if err != nil {
		return nil, err
	}

	indices := parseSelection(answer, len(listed))
	selected := lo.Map(indices, func(i int, _ int) Article { return listed[i] })
	slog.Info("Articles selected", "indices", indices)
	return selected, nil
}

// parseSelection extracts up to maxUsedArticles valid indices, defaulting to
// the first entries when the model answer cannot be used.
func parseSelection(answer string, available int) []int {
	var sel articleSelection
	if err := json.Unmarshal([]byte(answer), &sel); err != nil {
		slog.Warn("Unparseable selection answer, using leading articles", "error", err)
		sel.Selected = nil
	}

	valid := lo.Filter(sel.Selected, func(i int, _ int) bool {
		return i >= 0 && i < available
	})
	valid = lo.Uniq(valid)
	if len(valid) == 0 {
		valid = lo.RangeFrom(0, min(maxUsedArticles, available))
	}
	return lo.Slice(valid, 0, maxUsedArticles)
}

func (c *PostComposer) generate(ctx context.Context, selected []Article) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Write a detailed Telegram channel post based on the following articles:")
	for _, a := range selected {
		fmt.Fprintf(&prompt, "\n\n%s\n%s...", a.Title, preview(a.Content, contentPreviewLen))
	}
	fmt.Fprintf(&prompt,
		"\n\nKeep the post under %d characters, add emoji and structure the text. "+
			"Never include links to the articles. "+
			"If the post comes out too long, shorten it and keep only the essentials.",
		targetPostRunes)

	return c.summarizer.Complete(ctx, prompt.String(), false)
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
