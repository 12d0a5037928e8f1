// Command peer joins a relay room and negotiates a call with the first other
// participant it meets.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/video-chat-relay/internal/client"
	"github.com/mossy-p/video-chat-relay/internal/logging"
	"github.com/mossy-p/video-chat-relay/internal/sequencer"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagRoom     string
	flagServer   string
	flagTurnURL  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Join a video chat room as a receive-only peer",
	Long: `Joins a room on the signaling relay and negotiates a WebRTC call with
the first other participant. Remote tracks are logged as they arrive.

Examples:
  peer -i standup
  peer --room standup --server wss://relay.example.com --turn-url https://relay.example.com/turn.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagRoom, "room", "i", "", "room identifier to join")
	rootCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:8080", "websocket base URL of the relay")
	rootCmd.Flags().StringVar(&flagTurnURL, "turn-url", "", "URL of a turn.json ICE configuration (default STUN when empty)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level")
	rootCmd.MarkFlagRequired("room")
}

func run(ctx context.Context) error {
	if err := logging.Setup(flagLogLevel, "text"); err != nil {
		return err
	}

	dialer, err := sequencer.NewPionDialer(logging.PionLoggerFactory{Logger: logrus.StandardLogger()})
	if err != nil {
		return err
	}

	c, err := client.Dial(ctx, client.Config{
		ServerURL: flagServer,
		RoomID:    flagRoom,
		Sequencer: sequencer.Config{
			ICEServers: client.ResolveICEServers(ctx, flagTurnURL),
			Dialer:     dialer,
			OnRemoteTrack: func(track *webrtc.TrackRemote) {
				log := logrus.WithFields(logrus.Fields{
					"kind":  track.Kind().String(),
					"codec": track.Codec().MimeType,
				})
				log.Info("Remote track received")
				go func() {
					packets, err := sequencer.DrainTrack(track)
					if err != nil {
						log.WithError(err).Warn("Remote track failed")
					}
					log.WithField("packets", packets).Info("Remote track ended")
				}()
			},
			OnStateChange: func(state sequencer.State) {
				logrus.WithField("state", state).Info("Call state changed")
			},
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	logrus.WithField("room", flagRoom).Info("Joined room")
	return c.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("peer failed")
	}
}
