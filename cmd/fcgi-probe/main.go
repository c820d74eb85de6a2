// Command fcgi-probe dials a FastCGI application server and prints the
// captured stdout, stderr, and end-of-request status for one request. It
// exists to exercise the fastcgi package end to end; it has no protocol
// logic of its own.
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
