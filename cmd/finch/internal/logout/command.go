package logout

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finch-im/finch/cmd/finch/internal"
	"github.com/finch-im/finch/pkg/credstore"
)

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session credentials",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			store := credstore.New(cfg.StatePath())
			if err := store.Clear(); err != nil {
				return fmt.Errorf("clearing credentials: %w", err)
			}
			fmt.Println("Stored credentials cleared")
			return nil
		},
	}
}
