// Command razor is a thin CLI harness around pkg/razor, driving the demo
// embedding (internal/demo) so the protocol can be exercised end to end
// without a real simulation attached.
package main

import (
	"fmt"
	"os"

	"github.com/curvedinf/razor/cmd/razor/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
