package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/anubani/ibnet/internal/config"
	"github.com/anubani/ibnet/internal/daemon"
)

func main() {
	// Set up command line flags
	flagSet := pflag.NewFlagSet("ibnetd", pflag.ExitOnError)
	flagSet.String("config", "", "Path to configuration file")
	flagSet.Bool("create-config", false, "Create a default configuration file and exit")
	flagSet.String("config-output", "ibnetd.yaml", "Where --create-config writes the file")
	flagSet.Bool("version", false, "Print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	version, _ := flagSet.GetBool("version")
	if version {
		fmt.Println("ibnetd v0.1.0")
		os.Exit(0)
	}

	createConfig, _ := flagSet.GetBool("create-config")
	if createConfig {
		configOutput, _ := flagSet.GetString("config-output")
		if err := config.CreateDefaultDaemonConfig(configOutput); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created default configuration at %s\n", configOutput)
		os.Exit(0)
	}

	configPath, _ := flagSet.GetString("config")
	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create daemon")
	}

	if err := d.Run(); err != nil {
		log.Fatal().Err(err).Msg("Daemon failed")
	}
}
