// Package commands implements the esd server command line.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/server"
	"github.com/easyshare/easyshare/pkg/config"
	"github.com/easyshare/easyshare/pkg/registry"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var flags struct {
	address      string
	configFile   string
	discoverPort int
	rexec        bool
	name         string
	password     string
	port         int
	sslCert      string
	sslPrivkey   string
	trace        bool
	verbose      bool
	noColor      bool
	version      bool
}

// rootCmd runs the server. Positional arguments register one ad-hoc
// sharing: a path and an optional sharing name.
var rootCmd = &cobra.Command{
	Use:   "esd [flags] [SHARING_PATH [SHARING_NAME]]",
	Short: "esd - easyshare server daemon",
	Long: `esd exposes named sharings (files or directory trees) to easyshare
clients on the local network. Clients discover the server by broadcast,
authenticate, navigate sharings and transfer files in both directions.`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

// Execute runs the esd command line.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("esd: %v\n", err)
	}
	return err
}

func init() {
	registerFlags()
}

func registerFlags() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.address, "address", "a", "", "address to bind")
	f.StringVarP(&flags.configFile, "config", "c", "", "configuration file")
	f.IntVarP(&flags.discoverPort, "discover-port", "d", config.DefaultDiscoverPort, "discovery port (0 disables discovery)")
	f.BoolVarP(&flags.rexec, "rexec", "e", false, "enable remote command execution")
	f.StringVarP(&flags.name, "name", "n", "", "server name (default: hostname)")
	f.StringVarP(&flags.password, "password", "P", "", "server password (plain or hashed)")
	f.IntVarP(&flags.port, "port", "p", config.DefaultPort, "control port")
	f.StringVar(&flags.sslCert, "ssl-cert", "", "TLS certificate file (enables SSL with --ssl-privkey)")
	f.StringVar(&flags.sslPrivkey, "ssl-privkey", "", "TLS private key file")
	f.BoolVarP(&flags.trace, "trace", "t", false, "enable protocol tracing (debug logging)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	f.BoolVarP(&flags.version, "version", "V", false, "print version and exit")
}

// buildConfig merges flags over the config file over the defaults.
func buildConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	cfg := config.Default()
	if flags.configFile != "" {
		loaded, err := config.Load(flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Only flags the user actually set override the file.
	set := cmd.Flags().Changed
	if set("address") {
		cfg.Address = flags.address
	}
	if set("port") {
		cfg.Port = flags.port
	}
	if set("discover-port") {
		cfg.DiscoverPort = flags.discoverPort
	}
	if set("name") {
		cfg.Name = flags.name
	}
	if set("password") {
		cfg.Password = flags.password
	}
	if set("rexec") {
		cfg.Rexec = flags.rexec
	}
	if set("ssl-cert") {
		cfg.SSLCert = flags.sslCert
	}
	if set("ssl-privkey") {
		cfg.SSLPrivkey = flags.sslPrivkey
	}
	if cfg.SSLCert != "" && cfg.SSLPrivkey != "" {
		cfg.SSL = true
	}
	if set("trace") {
		cfg.Trace = flags.trace
	}
	if set("verbose") {
		cfg.Verbose = flags.verbose
	}
	if set("no-color") {
		cfg.NoColor = flags.noColor
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildRegistry registers config-file sharings plus the ad-hoc positional
// sharing.
func buildRegistry(cfg *config.ServerConfig, args []string) (*registry.Registry, error) {
	reg := registry.New()
	for _, sc := range cfg.Sharings {
		sharing, err := registry.NewSharing(sc.Name, sc.Path, sc.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("sharing %q: %w", sc.Name, err)
		}
		if err := reg.Add(sharing); err != nil {
			return nil, err
		}
	}
	if len(args) > 0 {
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		sharing, err := registry.NewSharing(name, args[0], false)
		if err != nil {
			return nil, fmt.Errorf("sharing %q: %w", args[0], err)
		}
		if err := reg.Add(sharing); err != nil {
			return nil, err
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("no sharings configured; give a path or a config file")
	}
	return reg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	if flags.version {
		fmt.Printf("esd %s (%s)\n", Version, Commit)
		return nil
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{NoColor: cfg.NoColor}); err != nil {
		return err
	}
	logger.SetVerbosity(cfg.Verbose, cfg.Trace)

	reg, err := buildRegistry(cfg, args)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, reg, Version)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Serve(ctx)
}
