package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/huddle/internal/adapter/driven/auth"
	"github.com/Wyydra/huddle/internal/config"
	"github.com/Wyydra/huddle/internal/core/domain"
	"github.com/spf13/cobra"
)

var (
	tokenRoom string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a moderator token for a room",
	Long: `token prints a signed capability token. A participant that joins with
it may moderate the room under the host policy. Use --room '*' for a token
valid in every room.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRoom, "room", "", "room the token is valid for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	_ = tokenCmd.MarkFlagRequired("room")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(v, configFile)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set to mint tokens")
	}

	room := tokenRoom
	if room != auth.AnyRoom {
		id, err := domain.NewRoomID(room)
		if err != nil {
			return err
		}
		room = id.String()
	}

	token, err := auth.NewTokenService(cfg.JWTSecret).Issue(room, domain.RoleModerator, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
