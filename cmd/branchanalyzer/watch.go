package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/codecrow/branchanalyzer/internal/tui"
)

// runWatch attaches a terminal UI to a running `serve` instance's /watch
// websocket endpoint and renders each progress event as it arrives.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", "localhost"+defaultAddr, "host:port of a running branchanalyzer serve")
	project := fs.String("project", "", "project name, shown in the header")
	branch := fs.String("branch", "", "branch name, shown in the header")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/watch"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()

	model := tui.NewModel(*project, *branch)
	program := tea.NewProgram(model)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				program.Send(tui.ConnErrMsg{Err: err})
				return
			}
			var event map[string]any
			if err := json.Unmarshal(data, &event); err != nil {
				continue
			}
			program.Send(tui.EventMsg{Event: event})
		}
	}()

	_, err = program.Run()
	return err
}
