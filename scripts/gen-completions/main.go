// Command gen-completions writes stepflow's shell completion scripts into a
// directory so release archives can ship them.
//
// Usage:
//
//	go run ./scripts/gen-completions [output-dir]
//
// The default output directory is "completions".
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/netbyu/ump-sub000/internal/cli"
)

type generator struct {
	file string
	gen  func(root *cobra.Command, w io.Writer) error
}

var generators = []generator{
	{"stepflow.bash", func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) }},
	{"_stepflow", func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) }},
	{"stepflow.fish", func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) }},
	{"stepflow.ps1", func(root *cobra.Command, w io.Writer) error { return root.GenPowerShellCompletionWithDesc(w) }},
}

func main() {
	outDir := "completions"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := run(outDir); err != nil {
		fmt.Fprintln(os.Stderr, "gen-completions:", err)
		os.Exit(1)
	}
	fmt.Printf("All completions written to %s/\n", outDir)
}

func run(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}
	root := cli.NewRootCmd()
	for _, g := range generators {
		path := filepath.Join(outDir, g.file)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := g.gen(root, f); err != nil {
			_ = f.Close()
			return fmt.Errorf("generating %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("Generated %s\n", path)
	}
	return nil
}
