package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

// CreateQueryCmd creates the query command: print one published device by
// UDI.
func CreateQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <udi>",
		Short: "Show one published device",
		Long:  `Fetches a single device from the running daemon's global device list by its UDI and prints its properties, capabilities, and locks.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			asJSON, _ := cmd.Flags().GetBool("json")

			client := newAPIClient(server, username, password)
			var dev struct {
				UDI          string         `json:"udi"`
				Parent       string         `json:"parent"`
				Properties   map[string]any `json:"properties"`
				Capabilities []string          `json:"capabilities"`
				Locks        map[string]string `json:"locks"`
			}
			if err := client.getJSON("/api/device", url.Values{"udi": {args[0]}}, &dev); err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(dev)
			}

			fmt.Printf("udi = %s\n", dev.UDI)
			if dev.Parent != "" {
				fmt.Printf("  info.parent = %s\n", dev.Parent)
			}
			keys := make([]string, 0, len(dev.Properties))
			for k := range dev.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %s = %v\n", k, dev.Properties[k])
			}
			if len(dev.Capabilities) > 0 {
				fmt.Printf("  capabilities = %v\n", dev.Capabilities)
			}
			lockNames := make([]string, 0, len(dev.Locks))
			for name := range dev.Locks {
				lockNames = append(lockNames, name)
			}
			sort.Strings(lockNames)
			for _, name := range lockNames {
				fmt.Printf("  lock %s = %s\n", name, dev.Locks[name])
			}
			return nil
		},
	}

	addClientFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the raw JSON response")
	return cmd
}

// addClientFlags attaches the connection flags shared by every
// daemon-client subcommand.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "http://localhost:8088", "Daemon query API address")
	cmd.Flags().String("username", "", "Basic auth username")
	cmd.Flags().String("password", "", "Basic auth password")
}
