package feeds

import (
	"context"
	"fmt"
	"hash/fnv"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/madcti/cti-go/internal/cti"
)

const defaultCERTEUURL = "https://www.cert.europa.eu/publications/"

// CERTEU scrapes the CERT-EU publications page for advisory lines that
// mention the query keyword.
type CERTEU struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewCERTEU builds the CERT-EU source.
func NewCERTEU(client *http.Client) *CERTEU {
	return &CERTEU{
		url:    defaultCERTEUURL,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *CERTEU) Name() string { return "cert-eu" }

func (s *CERTEU) Fetch(ctx context.Context, query string) ([]cti.RawThreat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cert-eu: create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cert-eu: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cert-eu: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("cert-eu: read: %w", err)
	}

	keyword := strings.ToLower(query)
	collected := s.now().Format("2006-01-02T15:04:05")
	var out []cti.RawThreat
	for _, line := range strings.Split(string(body), "\n") {
		lower := strings.ToLower(line)
		// Advisory listings mention both the searched keyword and the word
		// "threat"; anything else on the page is navigation noise.
		if !strings.Contains(lower, keyword) || !strings.Contains(lower, "threat") {
			continue
		}
		title := strings.TrimSpace(html.UnescapeString(tagRE.ReplaceAllString(line, "")))
		if title == "" {
			continue
		}
		out = append(out, cti.RawThreat{
			ID:         fmt.Sprintf("certeu_%08x", lineHash(line)),
			Title:      truncateTitle(title, 120),
			ThreatType: "Threat Advisory",
			Source:     "CERT-EU",
			Date:       collected,
		})
	}
	return out, nil
}

// lineHash gives scraped lines a stable synthetic record ID.
func lineHash(line string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(line))
	return h.Sum32()
}
