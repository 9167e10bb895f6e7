// cmd/cordeliactl is the CLI client for a Cordelia node, built with
// Cobra.
//
// Usage:
//
//	cordeliactl devices register alice                  --server http://localhost:8080
//	cordeliactl l2 write i1 note alice "hello"           --server http://localhost:8080 --token <token>
//	cordeliactl l2 read i1                               --server http://localhost:8080 --token <token>
//	cordeliactl groups create family alice               --server http://localhost:8080 --token <token>
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cordelia/internal/client"
)

var (
	serverAddr string
	authToken  string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "cordeliactl",
		Short: "CLI client for a Cordelia node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "Cordelia node address")
	root.PersistentFlags().StringVarP(&authToken, "token", "t",
		os.Getenv("CORDELIA_TOKEN"), "bearer credential (device_id.secret), or set CORDELIA_TOKEN")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(l2Cmd(), groupsCmd(), devicesCmd(), statusCmd(), peersCmd(), diagnosticsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverAddr, authToken, timeout)
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
