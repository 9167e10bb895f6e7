package main

import (
	"context"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node identity, role, and uptime",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Status(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known peers and per-state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Peers(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func diagnosticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Show replication counters and peer-state breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Diagnostics(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}
