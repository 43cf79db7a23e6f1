package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	"github.com/samber/oops"
)

const archiveFeedSize = 50

// FeedService renders the published-post archive as an RSS feed.
type FeedService struct {
	store PostStore
}

func NewFeedService(store PostStore) *FeedService {
	return &FeedService{store: store}
}

func (s *FeedService) GenerateFeed(ctx context.Context, baseURL string) (*feeds.Feed, error) {
	posts, err := s.store.RecentPosts(ctx, archiveFeedSize)
	if err != nil {
		return nil, oops.With("context", "loading recent posts").Wrap(err)
	}

	feed := &feeds.Feed{
		Title:       "Published posts archive",
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/archive.xml", baseURL)},
		Description: "Channel posts published through the approval workflow",
		Created:     time.Now(),
	}
	if len(posts) > 0 {
		feed.Updated = posts[0].CreatedAt
	}

	for _, post := range posts {
		feed.Items = append(feed.Items, postToFeedItem(post))
	}
	return feed, nil
}

func postToFeedItem(post *PostRecord) *feeds.Item {
	item := &feeds.Item{
		Title:       truncate(post.Text, 100),
		Description: post.Text,
		Author:      &feeds.Author{Name: post.AuthorName},
		Created:     post.CreatedAt,
		Id:          fmt.Sprintf("post-%d", post.ID),
	}
	if post.SourceURLs != nil {
		item.Content = fmt.Sprintf("%s\n\nSources: %s", post.Text, *post.SourceURLs)
	}
	return item
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
