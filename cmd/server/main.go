package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	v          = viper.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "huddle-server",
	Short: "Signaling relay for mesh video rooms",
	Long: `huddle-server keeps track of who is in which room and relays the
WebRTC offers, answers and ICE candidates participants exchange to build a
full mesh. It also relays chat, screen share and moderation messages.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "huddle.yaml", "config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
