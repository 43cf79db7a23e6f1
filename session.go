package main

import (
	"sync"
)

// SessionState owns the single in-flight draft. The workflow is single-slot
// by design: at most one draft exists system-wide, and it is non-nil only
// between a successful composition and approve/cancel. All access goes
// through the mutex so chat handlers and the scheduler never race on it.
type SessionState struct {
	mu        sync.Mutex
	draft     *Draft
	composing bool
}

func NewSessionState() *SessionState {
	return &SessionState{}
}

// BeginCompose claims the composition slot. A second create/regenerate while
// one is still running is rejected instead of interleaving draft writes.
func (s *SessionState) BeginCompose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.composing {
		return ErrCompositionInFlight
	}
	s.composing = true
	return nil
}

// EndCompose releases the composition slot.
func (s *SessionState) EndCompose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composing = false
}

// SetDraft installs a freshly composed draft, dropping any previous text
// and attached media.
func (s *SessionState) SetDraft(d *Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = d
}

// Draft returns a copy of the current draft, or nil when the session is idle.
func (s *SessionState) Draft() *Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	copied := Draft{
		Text:    s.draft.Text,
		Media:   append([]MediaRef(nil), s.draft.Media...),
		Sources: append([]Article(nil), s.draft.Sources...),
	}
	return &copied
}

func (s *SessionState) HasDraft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft != nil
}

// ReplaceText swaps the draft text verbatim, keeping media and sources.
func (s *SessionState) ReplaceText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return ErrNoPendingPost
	}
	s.draft.Text = text
	return nil
}

// AppendMedia attaches one media item, preserving arrival order.
func (s *SessionState) AppendMedia(m MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return ErrNoPendingPost
	}
	s.draft.Media = append(s.draft.Media, m)
	return nil
}

// Clear drops the draft, its media and the used-article list.
func (s *SessionState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = nil
}
