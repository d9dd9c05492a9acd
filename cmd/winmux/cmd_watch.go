package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

const clearScreen = "\033[H\033[2J"

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live-refreshing dashboard of all sessions (Ctrl-C to exit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doWatch()
		},
	}
}

// doWatch redraws the session table once a second until interrupted,
// fetching it over the wire with a List request on every tick.
func doWatch() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	redraw := func() {
		evt, err := request(proto.Request{Type: proto.ReqList})
		fmt.Print(clearScreen)
		fmt.Println(headerStyle.Render(fmt.Sprintf("winmux watch — %s", time.Now().Format(time.Kitchen))))
		fmt.Println()
		if err != nil {
			fmt.Println(dimStyle.Render(err.Error()))
			return
		}
		printSessionTable(evt.Sessions)
		fmt.Println()
		fmt.Println(dimStyle.Render("Ctrl-C to exit"))
	}

	redraw()
	for {
		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-ticker.C:
			redraw()
		}
	}
}
