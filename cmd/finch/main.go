package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/finch-im/finch/cmd/finch/internal"
	"github.com/finch-im/finch/cmd/finch/internal/logout"
	"github.com/finch-im/finch/cmd/finch/internal/run"
	"github.com/finch-im/finch/cmd/finch/internal/version"
)

func NewFinchCommand() *cobra.Command {
	short := fmt.Sprintf("finch - terminal chat client v%s", internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "finch",
		Short:   short,
		Example: "finch run",
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		logout.NewLogoutCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewFinchCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
