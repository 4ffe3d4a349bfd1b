// Command maxbridge connects a learning platform to the MAX messenger: it
// serves the bot webhook and the admin API, drains the delivery spool and
// manages the webhook subscription.
package main

import "os"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
