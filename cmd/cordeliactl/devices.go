package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Enroll, list, and revoke device credentials",
	}
	cmd.AddCommand(devicesRegisterCmd(), devicesListCmd(), devicesRevokeCmd())
	return cmd
}

func devicesRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <entity-id>",
		Short: "Enroll a new device and print its bearer token (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().DevicesRegister(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			fmt.Fprintln(cmd.OutOrStdout(), "store this token; it will not be shown again")
			return nil
		},
	}
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List every device registered for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := newClient().DevicesList(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(devices)
			return nil
		},
	}
}

func devicesRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Revoke a device's credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DevicesRevoke(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("revoked %q\n", args[0])
			return nil
		},
	}
}
