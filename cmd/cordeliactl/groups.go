package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cordelia/internal/client"
)

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage sovereign-memory groups and their members",
	}
	cmd.AddCommand(
		groupsCreateCmd(), groupsListCmd(), groupsReadCmd(), groupsDeleteCmd(),
		groupsItemsCmd(), groupsAddMemberCmd(), groupsRemoveMemberCmd(), groupsUpdatePostureCmd(),
	)
	return cmd
}

func groupsCreateCmd() *cobra.Command {
	var eagerness string
	cmd := &cobra.Command{
		Use:   "create <name> <owner-id>",
		Short: "Create a group and trigger an immediate group exchange",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newClient().GroupsCreate(context.Background(), args[0], args[1],
				client.Culture{BroadcastEagerness: eagerness})
			if err != nil {
				return err
			}
			prettyPrint(g)
			return nil
		},
	}
	cmd.Flags().StringVar(&eagerness, "eagerness", "chatty", "broadcast eagerness: chatty, moderate, or taciturn")
	return cmd
}

func groupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every non-tombstoned group",
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := newClient().GroupsList(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(groups)
			return nil
		},
	}
}

func groupsReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <group-id>",
		Short: "Fetch one group descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newClient().GroupsRead(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("group %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(g)
			return nil
		},
	}
}

func groupsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Tombstone a group and soft-remove its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().GroupsDelete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

func groupsItemsCmd() *cobra.Command {
	var sinceStr string
	var limit int
	cmd := &cobra.Command{
		Use:   "items <group-id>",
		Short: "List item headers for a group since a watermark (sync debugging)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			since := time.Time{}
			if sinceStr != "" {
				t, err := time.Parse(time.RFC3339, sinceStr)
				if err != nil {
					return fmt.Errorf("invalid --since (want RFC3339): %w", err)
				}
				since = t
			}
			headers, hasMore, err := newClient().GroupsItems(context.Background(), args[0], since, limit)
			if err != nil {
				return err
			}
			prettyPrint(struct {
				Headers []client.ItemHeader `json:"headers"`
				HasMore bool                `json:"has_more"`
			}{headers, hasMore})
			return nil
		},
	}
	cmd.Flags().StringVar(&sinceStr, "since", "", "RFC3339 timestamp watermark")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of headers")
	return cmd
}

func groupsAddMemberCmd() *cobra.Command {
	var role, posture string
	cmd := &cobra.Command{
		Use:   "add-member <group-id> <entity-id>",
		Short: "Add or replace a member record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newClient().GroupsAddMember(context.Background(), args[0], args[1], role, posture)
			if err != nil {
				return err
			}
			prettyPrint(m)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "member", "owner, admin, member, or viewer")
	cmd.Flags().StringVar(&posture, "posture", "active", "active, silent, emcon, or removed")
	return cmd
}

func groupsRemoveMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-member <group-id> <entity-id>",
		Short: "Soft-remove a member (posture=removed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().GroupsRemoveMember(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("removed %q from %q\n", args[1], args[0])
			return nil
		},
	}
}

func groupsUpdatePostureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-posture <group-id> <entity-id> <posture>",
		Short: "Change a member's transmission posture without touching their role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newClient().GroupsUpdatePosture(context.Background(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			prettyPrint(m)
			return nil
		},
	}
}
