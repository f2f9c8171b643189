// Command polylens indexes Polymarket CTF Exchange trades from Polygon
// into a local SQLite store and serves market/trader analytics over it.
//
//	index    — scan a block range (or catch up to chain head) for OrderFilled logs
//	discover — fetch market/event metadata from Gamma and upsert it
//	serve    — run the read-only HTTP/WebSocket API, with the background sync pipeline
//	stats    — print a read-only summary of the local store
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
