package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kampouse/kvindexer/internal/config"
	"github.com/Kampouse/kvindexer/internal/daemon"
)

func main() {
	var cfg config.Config

	rootCmd := &cobra.Command{
		Use:   "kvindexer",
		Short: "Start the key-value indexer daemon",
		Run: func(_ *cobra.Command, _ []string) {
			if err := cfg.SetValues(os.LookupEnv); err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}

			logger := logrus.NewEntry(logrus.New())
			daemon.MustNew(&cfg, logger).Run()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		Run: func(_ *cobra.Command, _ []string) {
			if config.CommitHash == "" {
				fmt.Printf("kvindexer dev\n")
			} else {
				fmt.Printf("kvindexer %s (%s)\n", config.Version, config.CommitHash)
			}
		},
	}

	rootCmd.AddCommand(versionCmd)

	if err := cfg.AddFlags(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
