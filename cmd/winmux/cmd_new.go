package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

func newNewCmd() *cobra.Command {
	var name, shell, cwd string
	var cols, rows int

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new background session",
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := request(proto.Request{
				Type:  proto.ReqCreateSession,
				Name:  name,
				Shell: shell,
				Cwd:   cwd,
				Cols:  cols,
				Rows:  rows,
			})
			if err != nil {
				return err
			}
			fmt.Println(evt.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "session name (default: first 6 hex of id)")
	cmd.Flags().StringVarP(&shell, "shell", "s", "", "shell command to run (default: daemon config)")
	cmd.Flags().StringVarP(&cwd, "cwd", "C", "", "working directory (default: daemon config)")
	cmd.Flags().IntVarP(&cols, "cols", "c", 0, "terminal columns (default: 120)")
	cmd.Flags().IntVarP(&rows, "rows", "r", 0, "terminal rows (default: 30)")

	return cmd
}
