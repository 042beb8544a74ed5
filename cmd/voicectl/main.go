// Command voicectl drives a running voice session service over HTTP.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "voicectl",
	Short:         "Control the LifeOps voice session service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("VOICE_SERVER_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "voice session service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client {
	return newClientWith(serverURL, timeout)
}
