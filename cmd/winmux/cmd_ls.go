package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	exitedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func stateStyle(state string) lipgloss.Style {
	if state == "Running" {
		return runningStyle
	}
	return exitedStyle
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List sessions known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := request(proto.Request{Type: proto.ReqList})
			if err != nil {
				return err
			}
			printSessionTable(evt.Sessions)
			return nil
		},
	}
}

func printSessionTable(sessions []proto.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Println(dimStyle.Render("no sessions"))
		return
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%-34s  %-16s  %-8s  %-8s  %-5s  %s", "ID", "NAME", "STATE", "SIZE", "PID", "AGE")))
	for _, s := range sessions {
		size := fmt.Sprintf("%dx%d", s.Cols, s.Rows)
		age := time.Since(s.CreatedAt).Round(time.Second)
		fmt.Printf("%-34s  %-16s  %s  %-8s  %-5d  %s\n",
			s.ID, s.Name, stateStyle(s.State).Render(fmt.Sprintf("%-8s", s.State)), size, s.PID, age)
	}
}
