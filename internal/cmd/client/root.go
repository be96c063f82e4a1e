package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the tidal client.
// It registers the events and admin command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "tidal",
		Short: "Tidal client commands",
	}
	root.AddCommand(NewEventsCommand(baseURL))
	root.AddCommand(NewAdminCommand(baseURL))
	return root
}
