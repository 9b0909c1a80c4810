// Troubleshoot gateway: streaming chat backend for Azure troubleshooting
// assistance, fronting a browser UI process.
//
// Commands:
//   - gateway (default): backend API plus reverse proxy to the supervised UI
//   - backend: backend API only
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
