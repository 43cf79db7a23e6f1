package main

import (
	"time"
)

// Article is a single scraped listing entry with its full text.
type Article struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// MediaKind represents the type of attached media
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaRef is an opaque transport handle to an uploaded photo or video.
// Ordering matters: the first item of a group carries the post caption.
type MediaRef struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"file_id"`
}

// Draft is the single in-flight post: generated (or hand-edited) text,
// attached media and the articles it was built from.
type Draft struct {
	Text    string
	Media   []MediaRef
	Sources []Article
}

// Operator identifies an allow-listed admin driving the approval workflow.
type Operator struct {
	ID   int64
	Name string
}

// PostRecord is the persisted provenance row for a published post.
// DiscussionMessageID is the best-effort correlated message in the channel's
// linked comments chat; ParentID references another record's ID for reply
// threads. Nil pointer fields are omitted from writes.
type PostRecord struct {
	ID                  int64
	DiscussionMessageID *int64
	Text                string
	SourceURLs          *string
	AuthorID            int64
	AuthorName          string
	ParentID            *int64
	IsPost              bool
	CreatedAt           time.Time
}

// InboundMessage is a recently observed incoming message, used to correlate
// a published channel post with its mirrored discussion-chat copy.
type InboundMessage struct {
	MessageID    int
	ChatID       int64
	Text         string
	MediaGroupID string
}

// PublishResult carries the identifiers assigned by the channel publish.
type PublishResult struct {
	MessageID    int
	MediaGroupID string
}

// Command is a workflow action, mapped at the transport boundary from
// button text or slash commands.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandHelp
	CommandStatus
	CommandCreate
	CommandApprove
	CommandRegenerate
	CommandEdit
	CommandAddMedia
	CommandMediaDone
	CommandCancel
	CommandPostpone
	CommandChangeTime
	CommandEnable
	CommandDisable
)

// DialogState tracks a per-operator sub-dialog awaiting free-form input.
type DialogState int

const (
	DialogNone DialogState = iota
	DialogAwaitingEdit
	DialogAwaitingMedia
	DialogAwaitingTime
)
