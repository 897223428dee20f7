// Command coresim is a host-side simulation harness for corefw: it boots a
// small loopback pipeline entirely in-process (no real DMA hardware
// required), drives it through the scheduler and trigger engine, and
// serves /metrics and /status over HTTP so its behavior can be observed
// the way a host collaborator would observe the real firmware.
package main

import (
	"fmt"
	stdlog "log"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiograph/corefw/internal/conf"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		stdlog.Fatal(err)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "coresim",
		Short: "corefw pipeline/scheduler simulation harness",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := conf.Load(configPath); err != nil {
			return fmt.Errorf("coresim: load config: %w", err)
		}
		return nil
	}

	root.AddCommand(runCommand())
	return root
}

func init() {
	stdlog.SetOutput(os.Stderr)
}
