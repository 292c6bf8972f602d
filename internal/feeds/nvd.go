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

const defaultNVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0?resultsPerPage=200"

// NVD fetches recent CVEs from the NVD 2.0 API, filtered by the query
// keyword against the CVE descriptions.
type NVD struct {
	url    string
	apiKey string
	client *http.Client
}

// NewNVD builds the NVD source. apiKey is optional; without one NVD applies
// a stricter public rate limit.
func NewNVD(client *http.Client, apiKey string) *NVD {
	return &NVD{url: defaultNVDURL, apiKey: apiKey, client: client}
}

func (s *NVD) Name() string { return "nvd" }

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

func (s *NVD) Fetch(ctx context.Context, query string) ([]cti.RawThreat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("nvd: create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("apiKey", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nvd: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nvd: status %d", resp.StatusCode)
	}

	var parsed nvdResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("nvd: decode: %w", err)
	}

	keyword := strings.ToLower(query)
	var out []cti.RawThreat
	for _, v := range parsed.Vulnerabilities {
		var desc strings.Builder
		for _, d := range v.CVE.Descriptions {
			desc.WriteString(d.Value)
			desc.WriteString(" ")
		}
		text := strings.ToLower(desc.String())
		if keyword != "" && !strings.Contains(text, keyword) {
			continue
		}
		out = append(out, cti.RawThreat{
			ID:          v.CVE.ID,
			Title:       fmt.Sprintf("NVD CVE %s", v.CVE.ID),
			Description: strings.TrimSpace(desc.String()),
			ThreatType:  "Vulnerability",
			Source:      "NVD",
			Date:        v.CVE.Published,
		})
	}
	return out, nil
}
