package main

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

type fetchedMsg struct {
	snap snapshot
	err  error
}

// model is the dashboard's bubbletea state: the proxy's metrics address, the
// most recent snapshot, the previous one (to compute a request rate), and
// the rendering widgets that survive across fetches.
type model struct {
	addr       string
	client     *http.Client
	current    snapshot
	previous   snapshot
	lastFetch  time.Time
	err        error
	reqsGauge  progress.Model
	errGauge   progress.Model
	upstreamTb table.Model
	width      int
}

func newModel(addr string) model {
	cols := []table.Column{
		{Title: "Upstream", Width: 22},
		{Title: "Requests", Width: 10},
		{Title: "Timeouts", Width: 10},
		{Title: "Refused", Width: 10},
		{Title: "Other", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(false), table.WithHeight(8))

	return model{
		addr:       addr,
		client:     &http.Client{Timeout: 2 * time.Second},
		current:    emptySnapshot(),
		previous:   emptySnapshot(),
		reqsGauge:  progress.New(progress.WithDefaultGradient()),
		errGauge:   progress.New(progress.WithGradient("#04B575", "#ED567A")),
		upstreamTb: t,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.client, m.addr), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(fetchCmd(m.client, m.addr), tickCmd())
	case fetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.previous = m.current
		m.current = msg.snap
		m.lastFetch = time.Now()
		m.upstreamTb.SetRows(upstreamRows(msg.snap))
	}
	return m, nil
}

func (m model) View() string {
	header := titleStyle.Render("ravel-top") + "  " + labelStyle.Render(m.addr)

	if m.err != nil {
		return header + "\n\n" + errStyle.Render(fmt.Sprintf("fetch failed: %v", m.err)) + "\n\n" + labelStyle.Render("press q to quit")
	}

	rate := requestRate(m.previous, m.current)
	errRate := errorRatio(m.current)

	body := fmt.Sprintf(
		"%s\n%s %s\n%s %s\n\n%s\n%s\n\n%s\n",
		labelStyle.Render(fmt.Sprintf("requests=%d  parse_errors=%d  bytes_sent=%d  avg_latency=%.3fs",
			m.current.requests, m.current.parseErrors, m.current.bytesSent, avgLatency(m.current))),
		labelStyle.Render("request rate "), m.reqsGauge.ViewAs(clamp01(rate/50)),
		labelStyle.Render("5xx ratio    "), m.errGauge.ViewAs(clamp01(errRate)),
		labelStyle.Render("per-upstream:"),
		m.upstreamTb.View(),
		labelStyle.Render("press q to quit"),
	)

	return boxStyle.Render(header + "\n\n" + body)
}

func fetchCmd(client *http.Client, addr string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.Get(addr)
		if err != nil {
			return fetchedMsg{err: err}
		}
		defer resp.Body.Close()
		return fetchedMsg{snap: parseSnapshot(resp.Body)}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func requestRate(prev, cur snapshot) float64 {
	if cur.requests < prev.requests {
		return 0
	}
	return float64(cur.requests-prev.requests) / pollInterval.Seconds()
}

func errorRatio(s snapshot) float64 {
	total := s.requests
	if total == 0 {
		return 0
	}
	return float64(s.responses["5xx"]) / float64(total)
}

func avgLatency(s snapshot) float64 {
	if s.durationN == 0 {
		return 0
	}
	return s.durationSum / float64(s.durationN)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func upstreamRows(s snapshot) []table.Row {
	names := make([]string, 0, len(s.upstreamReqs))
	for name := range s.upstreamReqs {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		errs := s.upstreamErrs[name]
		rows = append(rows, table.Row{
			name,
			fmt.Sprintf("%d", s.upstreamReqs[name]),
			fmt.Sprintf("%d", errs["timeout"]),
			fmt.Sprintf("%d", errs["connection_refused"]),
			fmt.Sprintf("%d", errs["other"]),
		})
	}
	return rows
}
