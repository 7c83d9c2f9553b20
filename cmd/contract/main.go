// Command contract serves and checks APIs described by Swagger 2.0
// documents.
//
//	contract validate ./petstore.yaml
//	contract run --mode mock ./petstore.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bjaus/contract/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
