package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rupam798/VideoConferencing/internal/config"
	"github.com/Rupam798/VideoConferencing/internal/ui"
	"github.com/Rupam798/VideoConferencing/internal/version"
)

var (
	flagDomain   string
	flagInsecure bool
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagEnvFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpcall",
	Short:   "Peer-to-peer video calls from the terminal using WebRTC",
	Long:    `WarpCall joins multi-party video calls directly between devices using WebRTC. Media flows peer to peer; the signaling server only relays connection setup and participant state.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDomain, "domain", "", "signaling server domain")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "use ws:// instead of wss://")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "load environment from this file (default .env)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		return err
	}
	return nil
}

func addICEFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URL")
	cmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server URL")
	cmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	cmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	cmd.Flags().BoolVar(&flagRelay, "relay", false, "send all media through the TURN server")
}

func loadConfig(opts config.Options) (*config.Config, error) {
	opts.Domain = flagDomain
	opts.Insecure = flagInsecure
	opts.EnvFile = flagEnvFile

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}
