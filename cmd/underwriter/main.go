// Command underwriter runs insurance applications through the underwriting
// pipeline, either one-shot from a file or as an HTTP service.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
