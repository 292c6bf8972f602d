package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kevFixture = `{
	"vulnerabilities": [
		{
			"cveID": "CVE-2024-0001",
			"vendorProject": "Acme",
			"product": "Gateway",
			"vulnerabilityName": "Acme Gateway RCE used by ransomware gangs",
			"dateAdded": "2024-05-10"
		},
		{
			"cveID": "CVE-2024-0002",
			"vendorProject": "Other",
			"product": "Widget",
			"vulnerabilityName": "Widget path traversal",
			"dateAdded": "2024-05-11"
		}
	]
}`

func TestCISAKEVFetchFiltersByKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(kevFixture))
	}))
	defer srv.Close()

	s := NewCISAKEV(srv.Client())
	s.url = srv.URL

	out, err := s.Fetch(context.Background(), "ransomware")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "CVE-2024-0001", out[0].ID)
	assert.Equal(t, "CISA KEV", out[0].Source)
	assert.Equal(t, "Exploited Vulnerability", out[0].ThreatType)
	assert.Equal(t, "2024-05-10", out[0].Date)
}

func TestCISAKEVFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewCISAKEV(srv.Client())
	s.url = srv.URL

	_, err := s.Fetch(context.Background(), "q")
	assert.ErrorContains(t, err, "status 503")
}

const nvdFixture = `{
	"vulnerabilities": [
		{
			"cve": {
				"id": "CVE-2024-1111",
				"published": "2024-06-01T10:00:00.000",
				"descriptions": [
					{"lang": "en", "value": "A ransomware-deployable buffer overflow in FooServer."}
				]
			}
		},
		{
			"cve": {
				"id": "CVE-2024-2222",
				"published": "2024-06-02T10:00:00.000",
				"descriptions": [
					{"lang": "en", "value": "Cross-site scripting in BarApp."}
				]
			}
		}
	]
}`

func TestNVDFetchFiltersByKeyword(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apiKey")
		w.Write([]byte(nvdFixture))
	}))
	defer srv.Close()

	s := NewNVD(srv.Client(), "test-key")
	s.url = srv.URL

	out, err := s.Fetch(context.Background(), "ransomware")
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, out, 1)
	assert.Equal(t, "CVE-2024-1111", out[0].ID)
	assert.Equal(t, "NVD CVE CVE-2024-1111", out[0].Title)
	assert.Equal(t, "Vulnerability", out[0].ThreatType)
	assert.Equal(t, "NVD", out[0].Source)
}

func TestNVDFetchEmptyQueryKeepsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("apiKey"))
		w.Write([]byte(nvdFixture))
	}))
	defer srv.Close()

	s := NewNVD(srv.Client(), "")
	s.url = srv.URL

	out, err := s.Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

const thnFixture = `<html><body>
<a class="story-link" href="/2024/06/a.html"><div><h2 class="home-title">New Ransomware &amp; Wiper Campaign</h2></div></a>
<a class="story-link" href="/2024/06/b.html"><div><h2 class="home-title">Botnet Targets <b>IoT</b> Devices</h2></div></a>
</body></html>`

func TestHackerNewsFetchParsesStories(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte(thnFixture))
	}))
	defer srv.Close()

	s := NewHackerNews(srv.Client())
	s.baseURL = srv.URL
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	out, err := s.Fetch(context.Background(), "ransomware attack")
	require.NoError(t, err)
	assert.Equal(t, "/search?q=ransomware+attack", gotPath)
	require.Len(t, out, 2)

	// Entities unescaped and residual markup stripped.
	assert.Equal(t, "New Ransomware & Wiper Campaign", out[0].Title)
	assert.Equal(t, "Botnet Targets IoT Devices", out[1].Title)
	assert.Equal(t, "TheHackerNews", out[0].Source)
	assert.Equal(t, "2025-01-15T12:00:00", out[0].Date)
	assert.Equal(t, "New_Ransomware_&_Wiper_Campaign", out[0].ID)
}

const certEUFixture = `<html><body>
<title>Publications</title>
<div class="item"><a href="/p/1">Threat Landscape Report: Ransomware Surge Across Europe</a></div>
<div class="item"><a href="/p/2">Ransomware payment statistics quarterly update</a></div>
<div class="item"><a href="/p/3">Threat advisory on phishing infrastructure</a></div>
</body></html>`

func TestCERTEUFetchFiltersLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(certEUFixture))
	}))
	defer srv.Close()

	s := NewCERTEU(srv.Client())
	s.url = srv.URL
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// Only lines mentioning both the keyword and "threat" are advisories;
	// the payment-statistics line lacks the latter.
	out, err := s.Fetch(context.Background(), "ransomware")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Threat Landscape Report: Ransomware Surge Across Europe", out[0].Title)
	assert.Equal(t, "CERT-EU", out[0].Source)
	assert.Equal(t, "Threat Advisory", out[0].ThreatType)
	assert.Equal(t, "2025-01-15T12:00:00", out[0].Date)
	assert.True(t, strings.HasPrefix(out[0].ID, "certeu_"), "id %q", out[0].ID)
}

func TestCERTEUFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewCERTEU(srv.Client())
	s.url = srv.URL

	_, err := s.Fetch(context.Background(), "q")
	assert.ErrorContains(t, err, "status 502")
}

func TestTORDarkWebFetchCollectsMentions(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte("<html>\n<p>fresh ransomware builder listed for sale</p>\n<p>unrelated forum chatter</p>\n</html>"))
	}))
	defer srv.Close()

	s, err := NewTORDarkWeb("socks5://127.0.0.1:9050")
	require.NoError(t, err)
	s.client = srv.Client()
	s.bases = []string{srv.URL + "/search?q="}
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	out, err := s.Fetch(context.Background(), "ransomware")
	require.NoError(t, err)
	assert.Equal(t, "/search?q=ransomware", gotPath)
	require.Len(t, out, 1)
	assert.Equal(t, "fresh ransomware builder listed for sale", out[0].Title)
	assert.Equal(t, "TOR Dark Web", out[0].Source)
	assert.Equal(t, "Dark Web Mention", out[0].ThreatType)
	assert.True(t, strings.HasPrefix(out[0].ID, "tor_"), "id %q", out[0].ID)
}

func TestTORDarkWebFetchSkipsDeadSites(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ransomware leak site index\n"))
	}))
	defer alive.Close()

	s, err := NewTORDarkWeb("socks5://127.0.0.1:9050")
	require.NoError(t, err)
	s.client = alive.Client()
	s.bases = []string{dead.URL + "/search?q=", alive.URL + "/search?q="}

	out, err := s.Fetch(context.Background(), "ransomware")
	require.NoError(t, err, "one dead index site must not fail the source")
	require.Len(t, out, 1)
}

func TestTORDarkWebFetchAllSitesDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	s, err := NewTORDarkWeb("socks5://127.0.0.1:9050")
	require.NoError(t, err)
	s.client = dead.Client()
	s.bases = []string{dead.URL + "/search?q="}

	_, err = s.Fetch(context.Background(), "ransomware")
	assert.ErrorContains(t, err, "all index sites failed")
}

func TestNewTORDarkWebInvalidProxy(t *testing.T) {
	_, err := NewTORDarkWeb("://not-a-url")
	assert.Error(t, err)
}

func TestHackerNewsFetchNoStories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>no results</body></html>"))
	}))
	defer srv.Close()

	s := NewHackerNews(srv.Client())
	s.baseURL = srv.URL

	out, err := s.Fetch(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, out)
}
