package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// CreateListCmd creates the list command: enumerate published devices,
// optionally filtered by a property match or capability.
func CreateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published devices",
		Long:  `Lists every device in the running daemon's global device list. Use --key/--value to filter on a property match, or --capability to filter on a capability tag.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			capability, _ := cmd.Flags().GetString("capability")
			long, _ := cmd.Flags().GetBool("long")

			query := url.Values{}
			if key != "" {
				query.Set("key", key)
				query.Set("value", value)
			}
			if capability != "" {
				query.Set("capability", capability)
			}

			client := newAPIClient(server, username, password)
			var resp struct {
				Devices []struct {
					UDI          string         `json:"udi"`
					Properties   map[string]any `json:"properties"`
					Capabilities []string       `json:"capabilities"`
				} `json:"devices"`
			}
			if err := client.getJSON("/api/devices", query, &resp); err != nil {
				return err
			}

			for _, d := range resp.Devices {
				if long {
					fmt.Printf("%-70s subsystem=%v capabilities=%v\n",
						d.UDI, d.Properties["linux.subsystem"], d.Capabilities)
				} else {
					fmt.Println(d.UDI)
				}
			}
			fmt.Printf("\n%d devices\n", len(resp.Devices))
			return nil
		},
	}

	addClientFlags(cmd)
	cmd.Flags().String("key", "", "Property key to filter on")
	cmd.Flags().String("value", "", "Property value the key must match")
	cmd.Flags().String("capability", "", "Capability tag to filter on")
	cmd.Flags().BoolP("long", "l", false, "Show subsystem and capabilities per device")
	return cmd
}
