package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/emlakworker/config"
	"sjsage522/emlakworker/internal"
	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/services/sink"
	"sjsage522/emlakworker/services/worker"
)

const challengeHTML = `<!DOCTYPE html>
<html><head><title>Just a moment...</title></head>
<body><div id="cf-challenge">Checking your browser before accessing the site.</div></body></html>`

// fakeSite serves two result pages and a detail page per listing. The first
// request to the category is answered with a challenge interstitial.
type fakeSite struct {
	mu         sync.Mutex
	challenged bool
	hits       map[string]int
}

func (s *fakeSite) hit(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[path]++
	return s.hits[path]
}

func (s *fakeSite) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.hit(r.URL.Path)

	switch {
	case r.URL.Path == "/satilik-daire/istanbul":
		s.mu.Lock()
		first := !s.challenged
		s.challenged = true
		s.mu.Unlock()
		if first {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, challengeHTML)
			return
		}
		if r.URL.Query().Get("pagingOffset") == "20" {
			fmt.Fprint(w, resultsPage(1200000004, 2, ""))
			return
		}
		fmt.Fprint(w, resultsPage(1200000001, 3, "/satilik-daire/istanbul?pagingOffset=20"))
	case strings.HasPrefix(r.URL.Path, "/ilan/"):
		var id int
		if _, err := fmt.Sscanf(r.URL.Path, "/ilan/emlak-konut-satilik-daire-%d/detay", &id); err != nil {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, listingPage(id))
	default:
		http.NotFound(w, r)
	}
}

func resultsPage(first, rows int, next string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="searchResultsTable"><tbody class="searchResultsRowClass">`)
	for i := 0; i < rows; i++ {
		id := first + i
		fmt.Fprintf(&b, `
<tr class="searchResultsItem" data-id="%d">
  <td class="searchResultsTitleValue"><a class="classifiedTitle" href="/ilan/emlak-konut-satilik-daire-%d/detay">Bahçeli 3+1 daire %d</a></td>
  <td class="searchResultsPriceValue"><div><span>2.450.000 TL</span></div></td>
  <td class="searchResultsLocationValue">Üsküdar<br>Kuzguncuk Mh.</td>
</tr>`, id, id, id)
	}
	b.WriteString(`</tbody></table><div class="pageNavigator">`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="prevNextBut" title="Sonraki" href="%s">Sonraki</a>`, next)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func listingPage(id int) string {
	return fmt.Sprintf(`<html><body>
<div class="classifiedDetailTitle"><h1>Bahçeli 3+1 daire %d</h1></div>
<div class="classifiedInfo">
  <h3>2.450.000 TL</h3>
  <ul class="classifiedInfoList">
    <li><strong>İlan No</strong><span class="classifiedId">%d</span></li>
    <li><strong>Oda Sayısı</strong><span>3+1</span></li>
    <li><strong>Isınma</strong><span>Kombi (Doğalgaz)</span></li>
  </ul>
</div>
<div id="classifiedDescription">Boğaz manzaralı, bakımlı daire.</div>
</body></html>`, id, id)
}

func TestCrawlIntoDataset(t *testing.T) {
	site := &fakeSite{hits: make(map[string]int)}
	server := httptest.NewServer(site)
	defer server.Close()

	dir := t.TempDir()
	dataset, err := sink.OpenDataset(filepath.Join(dir, "dataset.db"))
	require.NoError(t, err)

	cfg := &config.Config{
		StartURLs:       []string{server.URL + "/satilik-daire/istanbul"},
		MaxItems:        4,
		IncludeDetails:  true,
		Concurrency:     2,
		MaxAttempts:     3,
		SessionPoolSize: 2,
		SessionMaxUsage: 50,
		ReportPath:      filepath.Join(dir, "report.md"),
	}

	detector := crawler.NewChallengeDetector()
	deps := &internal.Dependencies{
		Sink:     sink.NewMulti(dataset),
		Detector: detector,
		Parser:   crawler.NewSahibindenParser(crawler.DefaultSelectors()),
		Navigator: crawler.NewHTTPNavigator(detector, crawler.HTTPNavigatorOptions{
			Timeout:      5 * time.Second,
			PollInterval: 10 * time.Millisecond,
		}),
	}
	w := worker.NewWorker(cfg, deps,
		worker.WithSupervisorOptions(crawler.SupervisorOptions{
			NavigationTimeout: 5 * time.Second,
			HandlerTimeout:    5 * time.Second,
			ChallengeWaitMin:  time.Second,
			ChallengeWaitMax:  2 * time.Second,
		}),
		worker.WithBackoff(time.Millisecond, 5*time.Millisecond),
		worker.WithNextPageDelay(0, 0),
		worker.WithSeed(7),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Emitted)
	assert.Equal(t, "Quota reached", summary.Status())
	assert.Zero(t, summary.Stats.Failed)

	n, err := dataset.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := dataset.Get(ctx, "1200000004")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bahçeli 3+1 daire 1200000004", got.Title)
	assert.Equal(t, "3+1", got.Rooms)
	assert.Contains(t, got.Description, "Boğaz manzaralı")
	assert.False(t, got.ScrapedAt.IsZero())

	missing, err := dataset.Get(ctx, "1200000005")
	require.NoError(t, err)
	assert.Nil(t, missing, "the fifth listing is past the quota")
	assert.Zero(t, site.count("/ilan/emlak-konut-satilik-daire-1200000005/detay"))

	assert.FileExists(t, cfg.ReportPath)
	require.NoError(t, w.Close())
}
