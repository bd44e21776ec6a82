// Command dersweep runs grid-support test procedures against a DER bench.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/dersweep/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dersweep:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
