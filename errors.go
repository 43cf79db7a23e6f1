package main

import (
	"errors"
	"fmt"
)

var (
	ErrMissingBotToken     = errors.New("TELEGRAM_BOT_TOKEN environment variable is required")
	ErrMissingChannelID    = errors.New("CHANNEL_ID environment variable is required")
	ErrMissingMistralKey   = errors.New("MISTRAL_API_KEY environment variable is required")
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL environment variable is required")
	ErrUnauthorized        = errors.New("unauthorized user")
	ErrNoArticles          = errors.New("no fresh articles to publish")
	ErrSummarizerTimeout   = errors.New("summarizer call timed out")
	ErrNoPendingPost       = errors.New("no pending post")
	ErrCompositionInFlight = errors.New("composition already in progress")
	ErrInvalidTimeFormat   = errors.New("invalid time format, expected HH:MM")
	ErrEmptyUpdate         = errors.New("no fields to update")
)

// TooLongError is returned when the generator could not produce text within
// the publish limit after exhausting the retry budget.
type TooLongError struct {
	Length   int
	Attempts int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("generated post is too long (%d chars) after %d attempts", e.Length, e.Attempts)
}

// ComposerError wraps an unexpected failure inside a composition cycle.
type ComposerError struct {
	Stage string
	Err   error
}

func (e *ComposerError) Error() string {
	return fmt.Sprintf("composer %s stage: %v", e.Stage, e.Err)
}

func (e *ComposerError) Unwrap() error { return e.Err }

// ForeignKeyError reports a parent_id referential-integrity violation on
// insert, surfacing the offending id distinctly from other store failures.
type ForeignKeyError struct {
	ParentID int64
}

func (e *ForeignKeyError) Error() string {
	return fmt.Sprintf("parent_id=%d does not exist", e.ParentID)
}
