package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"sjsage522/emlakworker/internal/crawler"
)

// maxFailureRows bounds the failures table; the rest is summarized
const maxFailureRows = 50

// Summary is everything known about a finished crawl
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	StartURLs  []string
	MaxItems   int
	Emitted    int
	Stats      crawler.CrawlStats
	Sessions   crawler.PoolStats
	Err        error
}

// Elapsed is the run duration
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Status describes how the run ended
func (s *Summary) Status() string {
	switch {
	case s.Err != nil:
		return "Interrupted - " + s.Err.Error()
	case s.MaxItems > 0 && s.Emitted >= s.MaxItems:
		return "Quota reached"
	case s.Stats.CeilingHit:
		return "Request ceiling reached"
	default:
		return "Queue drained"
	}
}

// WriteMarkdown renders the run summary
func WriteMarkdown(w io.Writer, s *Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Emlak Crawl Report")
	md.PlainText("")

	quota := "unbounded"
	if s.MaxItems > 0 {
		quota = strconv.Itoa(s.MaxItems)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", s.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", s.Elapsed().Round(time.Second).String()},
			{"Status", s.Status()},
			{"Quota", quota},
			{"Listings emitted", strconv.Itoa(s.Emitted)},
		},
	})
	md.PlainText("")

	md.H2("Start URLs")
	md.PlainText("")
	md.BulletList(s.StartURLs...)
	md.PlainText("")

	md.H2("Requests")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Dispatched", strconv.Itoa(s.Stats.Dispatched)},
			{"Succeeded", strconv.Itoa(s.Stats.Succeeded)},
			{"Retried", strconv.Itoa(s.Stats.Retried)},
			{"Failed permanently", strconv.Itoa(s.Stats.Failed)},
			{"Abandoned", strconv.Itoa(s.Stats.Abandoned)},
		},
	})
	md.PlainText("")

	md.H2("Sessions")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Sessions", "Count"},
		Rows: [][]string{
			{"Created", strconv.Itoa(s.Sessions.Created)},
			{"Retired", strconv.Itoa(s.Sessions.Retired)},
			{"Evicted as bad", strconv.Itoa(s.Sessions.Evicted)},
		},
	})
	md.PlainText("")

	writeFailures(md, s.Stats.Failures)

	return md.Build()
}

func writeFailures(md *markdown.Markdown, failures []crawler.Failure) {
	md.H2("Failures")
	md.PlainText("")
	if len(failures) == 0 {
		md.PlainText("No permanent failures.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(failures))
	for i, f := range failures {
		if i == maxFailureRows {
			break
		}
		rows = append(rows, []string{"`" + f.URL + "`", string(f.Role), strconv.Itoa(f.Attempts), f.Reason})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Role", "Attempts", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
	if len(failures) > maxFailureRows {
		md.PlainText(fmt.Sprintf("... and %d more", len(failures)-maxFailureRows))
		md.PlainText("")
	}
}
