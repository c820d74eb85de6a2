package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "fcgi-probe",
	Short: "Exercise a FastCGI responder from the command line",
	Long: `fcgi-probe dials a FastCGI application server (PHP-FPM or similar),
builds a CGI parameter set from flags and an optional YAML config file,
streams a request body from stdin, and prints the captured stdout, stderr,
and end-of-request status.

This is a thin demonstration of the fastcgi package, not a replacement for
a real web server's FastCGI integration.`,
	Example:      `  $ fcgi-probe dial --address 127.0.0.1:9000 --script /var/www/html/index.php`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(dialCmd)
}
