package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/javanhut/muninn/internal/codec"
	"github.com/javanhut/muninn/internal/fstree"
)

var hashCmd = &cobra.Command{
	Use:   "hash <path>",
	Short: "Print the content digest of a source path",
	Long:  "Scans the file or directory at the given source-relative path and prints its canonical digest.",
	Args:  cobra.ExactArgs(1),
	Run:   hashCommand,
}

func hashCommand(cmd *cobra.Command, args []string) {
	eng, err := openEngine()
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer eng.Close()

	p, err := fstree.NewPath(fstree.RootSrc, args[0])
	if err != nil {
		log.Fatalf("bad path: %v", err)
	}
	node, err := eng.FS.Scan(p)
	if err != nil {
		log.Fatalf("failed to scan %s: %v", p, err)
	}
	h, err := codec.SigOf(node)
	if err != nil {
		log.Fatalf("failed to hash %s: %v", p, err)
	}
	fmt.Println(h)
}
