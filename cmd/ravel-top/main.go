// Command ravel-top is a read-only operator dashboard: it polls a running
// ravel proxy's /metrics endpoint and renders live request, error, and
// per-upstream gauges. It is tooling, not a proxy feature — it never talks
// to the proxy's client listener, only its metrics endpoint.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9090/metrics", "ravel metrics endpoint to poll")
	flag.Parse()

	p := tea.NewProgram(newModel(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ravel-top: %v\n", err)
		os.Exit(1)
	}
}
