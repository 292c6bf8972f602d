package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/madcti/cti-go/internal/cti"
)

const defaultKEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// CISAKEV fetches the CISA Known Exploited Vulnerabilities catalog and
// filters it by the query keyword.
type CISAKEV struct {
	url    string
	client *http.Client
}

// NewCISAKEV builds the KEV source.
func NewCISAKEV(client *http.Client) *CISAKEV {
	return &CISAKEV{url: defaultKEVURL, client: client}
}

func (s *CISAKEV) Name() string { return "cisa-kev" }

type kevCatalog struct {
	Vulnerabilities []struct {
		CVEID             string `json:"cveID"`
		VendorProject     string `json:"vendorProject"`
		Product           string `json:"product"`
		VulnerabilityName string `json:"vulnerabilityName"`
		DateAdded         string `json:"dateAdded"`
	} `json:"vulnerabilities"`
}

func (s *CISAKEV) Fetch(ctx context.Context, query string) ([]cti.RawThreat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("cisa-kev: create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cisa-kev: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cisa-kev: status %d", resp.StatusCode)
	}

	var catalog kevCatalog
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("cisa-kev: decode: %w", err)
	}

	keyword := strings.ToLower(query)
	var out []cti.RawThreat
	for _, v := range catalog.Vulnerabilities {
		text := strings.ToLower(v.VendorProject + v.Product + v.VulnerabilityName)
		if !strings.Contains(text, keyword) {
			continue
		}
		out = append(out, cti.RawThreat{
			ID:         v.CVEID,
			Title:      v.VulnerabilityName,
			ThreatType: "Exploited Vulnerability",
			Source:     "CISA KEV",
			Date:       v.DateAdded,
		})
	}
	return out, nil
}
