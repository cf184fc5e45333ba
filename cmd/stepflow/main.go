// Command stepflow runs per-step workflows with approval gates, either in
// the foreground or behind an HTTP API.
package main

import (
	"os"

	"github.com/netbyu/ump-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
