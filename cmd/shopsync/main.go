// Command shopsync crawls shop sitemaps, extracts product pages and
// transfers them into a PrestaShop-compatible database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
