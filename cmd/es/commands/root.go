// Package commands implements the es client command line: one-shot command
// execution and the interactive session.
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/easyshare/easyshare/internal/discovery"
	"github.com/easyshare/easyshare/internal/logger"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var flags struct {
	discoverPort int
	discoverWait time.Duration
	trace        bool
	verbose      bool
	noColor      bool
	version      bool
}

var rootCmd = &cobra.Command{
	Use:   "es [flags] [COMMAND [ARG...]]",
	Short: "es - easyshare client",
	Long: `es discovers easyshare servers on the local network, browses their
sharings and transfers files in both directions. Without a command an
interactive session is started.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

// Execute runs the es command line.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("es: %v\n", err)
	}
	return err
}

func init() {
	f := rootCmd.Flags()
	f.IntVarP(&flags.discoverPort, "discover-port", "d", discovery.DefaultPort, "discovery port to probe")
	f.DurationVarP(&flags.discoverWait, "discover-wait", "w", discovery.DefaultWait, "how long to wait for discovery replies")
	f.BoolVarP(&flags.trace, "trace", "t", false, "enable protocol tracing (debug logging)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	f.BoolVarP(&flags.version, "version", "V", false, "print version and exit")
	f.SetInterspersed(false)
}

func runClient(cmd *cobra.Command, args []string) error {
	if flags.version {
		fmt.Printf("es %s (%s)\n", Version, Commit)
		return nil
	}

	if err := logger.Init(logger.Config{NoColor: flags.noColor}); err != nil {
		return err
	}
	logger.SetVerbosity(flags.verbose, flags.trace)

	env := newEnv(flags.discoverPort, flags.discoverWait)
	defer env.disconnect()

	if len(args) == 0 {
		return env.interactive()
	}
	return env.run(args[0], args[1:])
}
