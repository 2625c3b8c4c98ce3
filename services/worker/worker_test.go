package worker

import (
	"context"
	"fmt"
	"os"
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
	crawlerrors "sjsage522/emlakworker/pkg/errors"
	"sjsage522/emlakworker/services/sink"
)

const startURL = "https://www.sahibinden.com/satilik-daire/istanbul"

// MockTab serves a fixed document
type MockTab struct {
	status   int
	location string
	html     string
}

func (t *MockTab) StatusCode() int                          { return t.status }
func (t *MockTab) Location() string                         { return t.location }
func (t *MockTab) HTML(ctx context.Context) (string, error) { return t.html, nil }
func (t *MockTab) Interact(ctx context.Context) error       { return nil }
func (t *MockTab) WaitNavigation(ctx context.Context) error { return ctx.Err() }
func (t *MockTab) Close() error                             { return nil }

// MockNavigator serves pages from a map and 404s everything else
type MockNavigator struct {
	mu     sync.Mutex
	pages  map[string]string
	opened []string
}

var _ crawler.Navigator = (*MockNavigator)(nil)

func (n *MockNavigator) Open(ctx context.Context, s *crawler.Session, id crawler.Identity, url string) (crawler.Tab, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, url)
	html, ok := n.pages[url]
	if !ok {
		return &MockTab{status: 404, location: url, html: "<html>yok</html>"}, nil
	}
	return &MockTab{status: 200, location: url, html: html}, nil
}

// MockSink keeps every saved listing
type MockSink struct {
	mu     sync.Mutex
	saved  []*crawler.Listing
	closed bool
}

var _ sink.Sink = (*MockSink)(nil)

func (m *MockSink) Save(ctx context.Context, listing *crawler.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, listing)
	return nil
}

func (m *MockSink) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, listings...)
	return nil
}

func (m *MockSink) Close() error {
	m.closed = true
	return nil
}

func (m *MockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func resultsPage(first, rows int) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="searchResultsTable"><tbody class="searchResultsRowClass">`)
	for i := 0; i < rows; i++ {
		id := first + i
		fmt.Fprintf(&b, `<tr class="searchResultsItem" data-id="%d">
<td class="searchResultsTitleValue"><a class="classifiedTitle" href="/ilan/emlak-konut-satilik-daire-%d/detay">Daire %d</a></td>
<td class="searchResultsPriceValue"><span>150.000 TL</span></td>
</tr>`, id, id, id)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		StartURLs:       []string{startURL},
		MaxItems:        3,
		Concurrency:     2,
		MaxAttempts:     2,
		SessionPoolSize: 2,
		SessionMaxUsage: 50,
		DatasetPath:     filepath.Join(t.TempDir(), "dataset.db"),
	}
}

func newTestWorker(cfg *config.Config, nav *MockNavigator, out *MockSink) *Worker {
	deps := &internal.Dependencies{
		Sink:      out,
		Navigator: nav,
		Parser:    crawler.NewSahibindenParser(crawler.DefaultSelectors()),
	}
	return NewWorker(cfg, deps,
		WithSupervisorOptions(crawler.SupervisorOptions{
			NavigationTimeout: time.Second,
			HandlerTimeout:    time.Second,
			ChallengeWaitMin:  10 * time.Millisecond,
			ChallengeWaitMax:  20 * time.Millisecond,
		}),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		WithNextPageDelay(0, 0),
		WithSeed(1),
	)
}

func TestRunOnceStopsAtQuota(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReportPath = filepath.Join(t.TempDir(), "reports", "run.md")
	nav := &MockNavigator{pages: map[string]string{startURL: resultsPage(1200000001, 6)}}
	out := &MockSink{}
	w := newTestWorker(cfg, nav, out)

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Emitted)
	assert.Equal(t, 3, out.count())
	assert.Equal(t, 1, summary.Stats.Succeeded)
	assert.Equal(t, "Quota reached", summary.Status())

	data, err := os.ReadFile(cfg.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Quota reached")

	require.NoError(t, w.Close())
	assert.True(t, out.closed)
}

func TestRunOnceWithoutSeeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.StartURLs = []string{"not-a-url"}
	w := newTestWorker(cfg, &MockNavigator{}, &MockSink{})

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, crawlerrors.ErrNoSeeds)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, crawlerrors.ErrNoSeeds)
}

func TestStartOneShot(t *testing.T) {
	cfg := testConfig(t)
	nav := &MockNavigator{pages: map[string]string{startURL: resultsPage(1200000001, 2)}}
	out := &MockSink{}
	w := newTestWorker(cfg, nav, out)

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, 2, out.count())
}

func TestStartRepeatsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.CrawlInterval = 10 * time.Millisecond
	nav := &MockNavigator{pages: map[string]string{startURL: resultsPage(1200000001, 1)}}
	out := &MockSink{}
	w := newTestWorker(cfg, nav, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return out.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
