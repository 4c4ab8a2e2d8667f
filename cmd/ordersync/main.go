// Command ordersync is the client-side sync tool for the sales-order API:
// it runs sync passes, reports queue status, and hosts a self-contained
// demo against an in-process fake of the API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
