package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winmux/winmux/internal/proto"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <idOrName>",
		Short: "Terminate a session's shell process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(args[0])
			if err != nil {
				return err
			}
			if _, err := request(proto.Request{Type: proto.ReqKill, SessionID: s.ID}); err != nil {
				return err
			}
			fmt.Printf("killed %s\n", s.ID)
			return nil
		},
	}
}

// resolveSession looks up idOrName via List, since Kill/Input/Resize need a
// concrete session id to report back to the user but the wire protocol
// accepts either form directly via Attach's idOrName field. Kill/Resize
// send the resolved id so the printed confirmation is unambiguous.
func resolveSession(idOrName string) (proto.SessionSummary, error) {
	evt, err := request(proto.Request{Type: proto.ReqList})
	if err != nil {
		return proto.SessionSummary{}, err
	}
	for _, s := range evt.Sessions {
		if s.ID == idOrName || s.Name == idOrName {
			return s, nil
		}
	}
	return proto.SessionSummary{}, fmt.Errorf("session not found: %s", idOrName)
}
