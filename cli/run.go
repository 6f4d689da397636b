package cli

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanhut/muninn/internal/tool"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command under memoization",
	Long:  "Runs an external command in a fresh output directory; repeated runs with the same arguments replay the cached result.",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCommand,
}

func runCommand(cmd *cobra.Command, args []string) {
	eng, err := openEngine()
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer eng.Close()

	runner := tool.NewRunner(eng)
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	res, err := runner.Run(vals...)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	out, err := eng.FS.Bytes(res.Stdout)
	if err != nil {
		log.Fatalf("failed to read stdout: %v", err)
	}
	os.Stdout.Write(out)
	if res.ExitCode != 0 {
		os.Exit(int(res.ExitCode))
	}
}
