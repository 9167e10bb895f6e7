package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cordelia/internal/client"
)

func l2Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "l2",
		Short: "Read, write, delete, and search sovereign-memory items",
	}
	cmd.AddCommand(l2WriteCmd(), l2ReadCmd(), l2DeleteCmd(), l2SearchCmd())
	return cmd
}

func l2WriteCmd() *cobra.Command {
	var groupID, parentID string
	var isCopy bool
	cmd := &cobra.Command{
		Use:   "write <item-id> <item-type> <author-id> <payload>",
		Short: "Store an item (payload is sent as-is; encryption is the caller's responsibility)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[3])
			sum := sha256.Sum256(payload)
			resp, err := newClient().L2Write(context.Background(), client.WriteItemRequest{
				ItemID:           args[0],
				ItemType:         args[1],
				GroupID:          groupID,
				AuthorID:         args[2],
				Checksum:         hex.EncodeToString(sum[:]),
				EncryptedPayload: payload,
				ParentID:         parentID,
				IsCopy:           isCopy,
			})
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id to share this item with")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent item id, for a threaded copy")
	cmd.Flags().BoolVar(&isCopy, "copy", false, "mark this write as a copy of --parent")
	return cmd
}

func l2ReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <item-id>",
		Short: "Fetch one item by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := newClient().L2Read(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("item %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(item)
			return nil
		},
	}
}

func l2DeleteCmd() *cobra.Command {
	var groupID, authorID string
	cmd := &cobra.Command{
		Use:   "delete <item-id>",
		Short: "Write a tombstone for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().L2Delete(context.Background(), args[0], groupID, authorID); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "group id the item belongs to")
	cmd.Flags().StringVar(&authorID, "author", "", "author id recording the deletion")
	return cmd
}

func l2SearchCmd() *cobra.Command {
	var limitStr string
	cmd := &cobra.Command{
		Use:   "search <group-id> <query>",
		Short: "Best-effort metadata search within a group (never searches payload contents)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 50
			if limitStr != "" {
				n, err := strconv.Atoi(limitStr)
				if err != nil {
					return fmt.Errorf("invalid --limit: %w", err)
				}
				limit = n
			}
			headers, err := newClient().L2Search(context.Background(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			prettyPrint(headers)
			return nil
		},
	}
	cmd.Flags().StringVar(&limitStr, "limit", "", "maximum number of results (default 50)")
	return cmd
}
