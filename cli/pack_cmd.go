package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanhut/muninn/internal/pack"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Export or import the object store as a pack file",
}

var packExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write every stored object to a pack file",
	Args:  cobra.ExactArgs(1),
	Run:   packExportCommand,
}

var packImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load objects from a pack file into the store",
	Args:  cobra.ExactArgs(1),
	Run:   packImportCommand,
}

func packExportCommand(cmd *cobra.Command, args []string) {
	eng, err := openEngine()
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer eng.Close()

	f, err := os.Create(args[0])
	if err != nil {
		log.Fatalf("failed to create pack file: %v", err)
	}
	defer f.Close()

	n, err := pack.Export(eng.CAS.DB(), f)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("exported %d objects to %s\n", n, args[0])
}

func packImportCommand(cmd *cobra.Command, args []string) {
	eng, err := openEngine()
	if err != nil {
		log.Fatalf("failed to open engine: %v", err)
	}
	defer eng.Close()

	f, err := os.Open(args[0])
	if err != nil {
		log.Fatalf("failed to open pack file: %v", err)
	}
	defer f.Close()

	n, err := pack.Import(eng.CAS.DB(), f)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	fmt.Printf("imported %d objects from %s\n", n, args[0])
}
