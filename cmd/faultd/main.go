// faultd - HTTPS stub server with wire-level fault injection.
package main

import (
	"fmt"
	"os"

	"github.com/getfaultd/faultd/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
