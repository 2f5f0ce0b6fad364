package main

import (
	"os"

	"github.com/Wyydra/huddle/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	v          = viper.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Headless participant for huddle mesh rooms",
	Long: `huddle joins a room on a huddle-server and keeps a WebRTC connection to
every other participant. Chat, screen share and moderation commands are read
from standard input.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "huddle-peer.yaml", "config file")
	rootCmd.PersistentFlags().String("server", "", "signaling server URL")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error, none)")
	_ = v.BindPFlag("server_url", rootCmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(joinCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.NewPrinter(os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}
