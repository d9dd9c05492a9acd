package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is alive and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := request(proto.Request{Type: proto.ReqPing})
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, evt.ServerTime)
			if err != nil {
				fmt.Println("pong")
				return nil
			}
			fmt.Printf("pong (server time %s)\n", t.Format(time.RFC3339))
			return nil
		},
	}
}
