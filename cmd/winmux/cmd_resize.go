package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

func newResizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize <idOrName> <cols> <rows>",
		Short: "Resize a session's pseudoconsole",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid cols %q: %w", args[1], err)
			}
			rows, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid rows %q: %w", args[2], err)
			}

			s, err := resolveSession(args[0])
			if err != nil {
				return err
			}
			// The daemon sends no reply to Resize, so this writes the
			// request and closes instead of waiting on request().
			conn, err := dial()
			if err != nil {
				return fmt.Errorf("cannot connect to daemon: %w", err)
			}
			defer conn.Close()
			if err := proto.WriteFrame(conn, proto.Request{Type: proto.ReqResize, SessionID: s.ID, Cols: cols, Rows: rows}); err != nil {
				return err
			}
			fmt.Printf("resized %s to %dx%d\n", s.ID, cols, rows)
			return nil
		},
	}
}
