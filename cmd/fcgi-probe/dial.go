package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Defilak/fastcgi-client/fastcgi"
)

var dialFlags struct {
	network    string
	address    string
	scriptPath string
	method     string
	keepAlive  bool
	timeout    time.Duration
	configPath string
	verbose    bool
}

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Send one request to a FastCGI responder and print the result",
	RunE:  runDial,
}

func init() {
	f := dialCmd.Flags()
	f.StringVar(&dialFlags.network, "network", "tcp", `transport network: "tcp" or "unix"`)
	f.StringVar(&dialFlags.address, "address", "127.0.0.1:9000", "address to dial (host:port, or a socket path for unix)")
	f.StringVar(&dialFlags.scriptPath, "script", "", "SCRIPT_FILENAME to request")
	f.StringVar(&dialFlags.method, "method", "GET", "REQUEST_METHOD")
	f.BoolVar(&dialFlags.keepAlive, "keep-alive", false, "ask the responder to keep the connection open")
	f.DurationVar(&dialFlags.timeout, "timeout", 10*time.Second, "overall deadline for the request")
	f.StringVar(&dialFlags.configPath, "config", "", "optional YAML file of default params")
	f.BoolVar(&dialFlags.verbose, "verbose", false, "log protocol-lifecycle events to stderr")
}

func runDial(cmd *cobra.Command, args []string) error {
	var cfg *ProbeConfig
	if dialFlags.configPath != "" {
		var err error
		cfg, err = loadConfig(dialFlags.configPath)
		if err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	// --config only fills in values the user didn't explicitly pass; an
	// explicit flag always wins over whatever the config file supplies.
	if cfg != nil && cfg.Network != "" && !flags.Changed("network") {
		dialFlags.network = cfg.Network
	}
	if cfg != nil && cfg.Address != "" && !flags.Changed("address") {
		dialFlags.address = cfg.Address
	}

	params := fastcgi.NewParams()
	if cfg != nil {
		for name, value := range cfg.Params {
			params.Set(name, value)
		}
	}
	if cfg == nil || flags.Changed("method") {
		params.RequestMethod(dialFlags.method)
	}
	if cfg == nil || flags.Changed("script") {
		params.ScriptFilename(dialFlags.scriptPath).ScriptName(dialFlags.scriptPath)
	}
	if cfg == nil {
		params.ContentLength(0)
	} else if _, set := cfg.Params["CONTENT_LENGTH"]; !set {
		params.ContentLength(0)
	}

	logger := zap.NewNop()
	if dialFlags.verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), dialFlags.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, dialFlags.network, dialFlags.address)
	if err != nil {
		return fmt.Errorf("dialing %s %s: %w", dialFlags.network, dialFlags.address, err)
	}

	var resp *fastcgi.Response
	if dialFlags.keepAlive {
		client := fastcgi.NewKeepAliveClient(conn, fastcgi.WithLogger(logger))
		resp, err = client.Execute(ctx, fastcgi.NewRequest(params, os.Stdin))
	} else {
		client := fastcgi.NewClient(conn, fastcgi.WithLogger(logger))
		resp, err = client.ExecuteOnce(ctx, fastcgi.NewRequest(params, os.Stdin))
	}
	if err != nil {
		return fmt.Errorf("fastcgi request failed: %w", err)
	}

	if len(resp.Stdout) > 0 {
		os.Stdout.Write(resp.Stdout)
	}
	if len(resp.Stderr) > 0 {
		fmt.Fprintf(os.Stderr, "stderr: %s\n", resp.Stderr)
	}
	fmt.Fprintf(os.Stderr, "app_status=%d protocol_status=%d\n", resp.AppStatus, resp.ProtocolStatus)
	return nil
}
