// Command copytrader replicates orders from a leader brokerage account onto
// a follower account.
//
// Exit codes: 0 graceful shutdown, 1 startup/configuration failure, 2 fatal
// runtime failure (store or stream).
package main

import (
	"flag"
	"fmt"
	"os"

	"copytrader/internal/bootstrap"
	apperrors "copytrader/pkg/errors"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, environment variables override)")
	flag.Parse()

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindStore, apperrors.KindStream:
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}
