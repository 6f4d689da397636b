package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanhut/muninn/internal/engine"
)

const MuninnVersion = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "muninn",
	Short: "Muninn is a content-addressed memoizing build engine",
	Long:  `Muninn hashes rule inputs into a content-addressable store and replays cached results instead of re-running tools.`,
	Run: func(cmd *cobra.Command, args []string) {
		if version {
			fmt.Printf("Muninn Version %s\n", MuninnVersion)
			os.Exit(0)
		}
		cmd.Help()
	},
}

var version bool

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&version, "version", false, "Print the version of Muninn")
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(packCmd)
	packCmd.AddCommand(packExportCmd, packImportCmd)
}

// openEngine loads muninn.toml from the working directory (falling back
// to defaults) and opens the engine.
func openEngine() (*engine.Engine, error) {
	cfg, err := engine.LoadConfig("muninn.toml")
	if err != nil {
		return nil, err
	}
	return engine.Open(cfg)
}
