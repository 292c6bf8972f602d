package feeds

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/madcti/cti-go/internal/cti"
)

// defaultOnionBases are the dark-web index sites searched for keyword
// mentions. Reachable only through the Tor proxy.
var defaultOnionBases = []string{
	"http://expyuzz4wqqyqhjn.onion/search?q=",
	"http://darkfailenbsdjsn.onion/search?q=",
}

// TORDarkWeb searches dark-web index sites through a SOCKS5 proxy for pages
// mentioning the query keyword. It needs a local Tor daemon; without one
// every fetch fails and the source drops out like any other dead feed.
type TORDarkWeb struct {
	bases  []string
	client *http.Client
	now    func() time.Time
}

// NewTORDarkWeb builds the dark-web source routed through proxyAddr
// (a socks5:// URL).
func NewTORDarkWeb(proxyAddr string) (*TORDarkWeb, error) {
	proxyURL, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("tor: parse proxy address: %w", err)
	}
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   40 * time.Second,
	}
	return &TORDarkWeb{
		bases:  defaultOnionBases,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *TORDarkWeb) Name() string { return "tor-darkweb" }

// Fetch queries each index site in turn. A dead site is skipped; the fetch
// only errors when every site failed and nothing was collected.
func (s *TORDarkWeb) Fetch(ctx context.Context, query string) ([]cti.RawThreat, error) {
	keyword := strings.ToLower(query)
	collected := s.now().Format("2006-01-02T15:04:05")

	var out []cti.RawThreat
	var lastErr error
	for _, base := range s.bases {
		body, err := s.get(ctx, base+url.QueryEscape(query))
		if err != nil {
			lastErr = err
			continue
		}
		for _, line := range strings.Split(body, "\n") {
			if !strings.Contains(strings.ToLower(line), keyword) {
				continue
			}
			title := strings.TrimSpace(html.UnescapeString(tagRE.ReplaceAllString(line, "")))
			if title == "" {
				continue
			}
			out = append(out, cti.RawThreat{
				ID:         fmt.Sprintf("tor_%08x", lineHash(line)),
				Title:      truncateTitle(title, 120),
				ThreatType: "Dark Web Mention",
				Source:     "TOR Dark Web",
				Date:       collected,
			})
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("tor: all index sites failed: %w", lastErr)
	}
	return out, nil
}

func (s *TORDarkWeb) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("tor: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tor: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tor: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("tor: read: %w", err)
	}
	return string(body), nil
}
