// oaiharvest harvests metadata from OAI-PMH endpoints, incrementally where
// possible, and keeps the state of every endpoint in an overview file.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
