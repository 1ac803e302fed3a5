// Package commands implements the proxyfetch command line.
package commands

import "github.com/spf13/cobra"

// NewRootCommand assembles the proxyfetch command tree.
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proxyfetch",
		Short: "Resilient HTTP fetching with retries and proxy fallback",
		Long: `proxyfetch fetches HTTP resources with a bounded retry budget, per-attempt
timeouts and ordered fallback across HTTP, HTTPS, SOCKS4 and SOCKS5 proxies.

Configuration is read from an optional YAML file and PROXYFETCH_* environment
variables; command line flags take precedence.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		NewGetCommand(),
		NewVersionCommand(version),
	)

	return rootCmd
}
