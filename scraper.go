package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"
)

const (
	fetchTimeout    = 10 * time.Second
	fetchAttempts   = 2
	fetchRetryDelay = 1 * time.Second
)

// ArticleSource pulls fresh candidate articles from the news site.
type ArticleSource interface {
	FetchListing(ctx context.Context) ([]Article, error)
}

// TechCrunchScraper crawls the listing page and extracts full article text
// for entries published within the recency window.
type TechCrunchScraper struct {
	client     *http.Client
	listingURL string
	window     time.Duration
	loc        *time.Location
	timeout    time.Duration
}

var _ ArticleSource = (*TechCrunchScraper)(nil)

func NewTechCrunchScraper(cfg *Config, loc *time.Location) *TechCrunchScraper {
	return &TechCrunchScraper{
		client:     &http.Client{},
		listingURL: cfg.ListingURL,
		window:     time.Duration(cfg.RecencyWindowHours) * time.Hour,
		loc:        loc,
		timeout:    fetchTimeout,
	}
}

// FetchListing returns all recent articles with their bodies. Network and
// parse failures degrade to an empty result rather than an error: the
// composition layer treats "no articles" as its own failure mode.
func (s *TechCrunchScraper) FetchListing(ctx context.Context) ([]Article, error) {
	slog.Info("Fetching article listing", "url", s.listingURL)

	page, err := s.fetchPage(ctx, s.listingURL)
	if err != nil {
		slog.Error("Failed to fetch listing page", "url", s.listingURL, "error", err)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, oops.With("url", s.listingURL).Wrap(err)
	}

	threshold := time.Now().In(s.loc).Add(-s.window)
	var articles []Article

	doc.Find("div.loop-card__content").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("h3.loop-card__title a.loop-card__title-link").First()
		timeEl := card.Find("time.loop-card__time").First()

		href, hasHref := link.Attr("href")
		stamp, hasStamp := timeEl.Attr("datetime")
		if !hasHref || !hasStamp {
			return
		}

		publishedAt, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			slog.Warn("Unparseable article timestamp", "url", href, "datetime", stamp)
			return
		}
		if publishedAt.In(s.loc).Before(threshold) {
			return
		}

		body, err := s.FetchBody(ctx, href)
		if err != nil || body == "" {
			slog.Warn("Skipping article without body", "url", href, "error", err)
			return
		}

		title := strings.TrimSpace(link.Text())
		articles = append(articles, Article{
			URL:     href,
			Title:   title,
			Content: body,
		})
		slog.Info("Collected article", "title", title)
	})

	slog.Info("Listing fetch complete", "count", len(articles))
	return articles, nil
}

// FetchBody downloads an article page and extracts its paragraph text.
func (s *TechCrunchScraper) FetchBody(ctx context.Context, url string) (string, error) {
	page, err := s.fetchPage(ctx, url)
	if err != nil {
		return "", err
	}
	if page == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", oops.With("url", url).Wrap(err)
	}

	var paragraphs []string
	doc.Find("div.entry-content p.wp-block-paragraph").Each(func(_ int, p *goquery.Selection) {
		paragraphs = append(paragraphs, p.Text())
	})

	return strings.Join(paragraphs, "\n"), nil
}

// fetchPage GETs a URL with a per-attempt deadline, retrying once on timeout
// after a fixed delay. Non-200 responses yield an empty page, not an error.
func (s *TechCrunchScraper) fetchPage(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		body, err := s.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isTimeout(err) {
			return "", oops.With("url", url).Wrap(err)
		}
		slog.Warn("Timeout fetching page", "url", url, "attempt", attempt, "max", fetchAttempts)
		if attempt < fetchAttempts {
			select {
			case <-time.After(fetchRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", oops.With("url", url, "attempts", fetchAttempts).Wrap(lastErr)
}

func (s *TechCrunchScraper) fetchOnce(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "techpost-bot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Unexpected response status", "url", url, "status", resp.Status)
		return "", nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
