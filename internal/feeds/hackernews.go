package feeds

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/madcti/cti-go/internal/cti"
)

const defaultTHNURL = "https://thehackernews.com"

// storyLinkRE pulls story titles out of TheHackerNews search results.
var storyLinkRE = regexp.MustCompile(`(?is)<a[^>]+class="story-link"[^>]*>.*?<h2[^>]*>(.*?)</h2>`)

// tagRE strips any residual markup from an extracted title.
var tagRE = regexp.MustCompile(`<[^>]*>`)

// HackerNews scrapes TheHackerNews search results for the query keyword.
type HackerNews struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewHackerNews builds the TheHackerNews source.
func NewHackerNews(client *http.Client) *HackerNews {
	return &HackerNews{
		baseURL: defaultTHNURL,
		client:  client,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *HackerNews) Name() string { return "thehackernews" }

func (s *HackerNews) Fetch(ctx context.Context, query string) ([]cti.RawThreat, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("thehackernews: create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thehackernews: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thehackernews: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("thehackernews: read: %w", err)
	}

	collected := s.now().Format("2006-01-02T15:04:05")
	var out []cti.RawThreat
	for _, m := range storyLinkRE.FindAllStringSubmatch(string(body), -1) {
		title := strings.TrimSpace(html.UnescapeString(tagRE.ReplaceAllString(m[1], "")))
		if title == "" {
			continue
		}
		out = append(out, cti.RawThreat{
			ID:         strings.ReplaceAll(truncateTitle(title, 50), " ", "_"),
			Title:      title,
			ThreatType: "Security Incident",
			Source:     "TheHackerNews",
			Date:       collected,
		})
	}
	return out, nil
}

func truncateTitle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
