package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vidrx/vidrx/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "vidrx",
	Short: "Real-time video receiver",
	Long: `vidrx is the receiver side of a loss-tolerant real-time video delivery
protocol over UDP. It reassembles frames from arriving fragments, feeds them
to a decode pipeline, and returns per-fragment feedback so the sender can
adapt its encoding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.ClientInfo()
			fmt.Printf("vidrx version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "V", false, "Print version information and exit")

	rootCmd.AddCommand(NewReceiveCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
