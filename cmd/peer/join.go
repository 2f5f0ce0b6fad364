package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/huddle/internal/adapter/driven/media/pion"
	"github.com/Wyydra/huddle/internal/client/session"
	"github.com/Wyydra/huddle/internal/client/signaling"
	"github.com/Wyydra/huddle/internal/config"
	"github.com/Wyydra/huddle/internal/logging"
	"github.com/Wyydra/huddle/internal/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var shareOnJoin bool

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and stay until /leave or Ctrl-C",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().String("name", "", "display name")
	joinCmd.Flags().String("token", "", "moderator token")
	joinCmd.Flags().Bool("no-video", false, "join with the camera off")
	joinCmd.Flags().Bool("no-audio", false, "join with the microphone off")
	joinCmd.Flags().BoolVar(&shareOnJoin, "screen", false, "start sharing the screen once joined")
	_ = v.BindPFlag("name", joinCmd.Flags().Lookup("name"))
	_ = v.BindPFlag("token", joinCmd.Flags().Lookup("token"))
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPeer(v, configFile)
	if err != nil {
		return err
	}
	if noVideo, _ := cmd.Flags().GetBool("no-video"); noVideo {
		cfg.Video = false
	}
	if noAudio, _ := cmd.Flags().GetBool("no-audio"); noAudio {
		cfg.Audio = false
	}
	if _, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := pion.NewFactory(cfg.ICEServers)
	if err != nil {
		return err
	}
	client := signaling.NewClient(cfg.ServerURL, signaling.Options{
		Attempts: cfg.ReconnectAttempts,
		Delay:    cfg.ReconnectDelay,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	s := session.New(session.Config{
		Name:      cfg.Name,
		Token:     cfg.Token,
		Video:     cfg.Video,
		Audio:     cfg.Audio,
		Transport: client,
		Media:     pion.NewProvider(),
		Factory:   factory.New,
	})
	defer s.Close()

	p := ui.NewPrinter(cmd.OutOrStdout())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Session stopped")
		}
		cancel()
	}()
	go watch(ctx, s, p)

	if err := s.Join(ctx, args[0]); err != nil {
		return err
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	r := &repl{s: s, p: p}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if r.handle(ctx, line) {
				return nil
			}
		}
	}
}

// watch prints session events until ctx is done.
func watch(ctx context.Context, s *session.Session, p *ui.Printer) {
	shared := false
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.Events():
			switch e.Kind {
			case session.EventState:
				p.Line(ui.StateLine(e.State))
				if e.State.State == session.StateConnected && shareOnJoin && !shared {
					shared = true
					if err := s.StartScreenShare(ctx); err != nil {
						p.Error("screen share: %v", err)
					}
				}
			case session.EventChat:
				p.Line(ui.ChatLine(e.Chat, s.Snapshot().Self))
			case session.EventModerated:
				p.Warning("%s applied by %s", e.Command, e.Peer)
			case session.EventWarning:
				p.Warning("%s", e.Message)
			case session.EventPeers:
				log.Debug().Str("peer_id", e.Peer.String()).Msg("Roster changed")
			}
		}
	}
}

func readLines(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
