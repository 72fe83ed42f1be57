// pact-stub-server - Stub server driven by pact contract files
package main

import (
	"os"

	"github.com/rannes/pact-stub-server/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
