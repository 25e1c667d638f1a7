package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Rupam798/VideoConferencing/internal/config"
	"github.com/Rupam798/VideoConferencing/internal/loop"
	"github.com/Rupam798/VideoConferencing/internal/media"
	"github.com/Rupam798/VideoConferencing/internal/peer"
	"github.com/Rupam798/VideoConferencing/internal/room"
	"github.com/Rupam798/VideoConferencing/internal/roomid"
	"github.com/Rupam798/VideoConferencing/internal/session"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
	"github.com/Rupam798/VideoConferencing/internal/ui"
)

var (
	flagName    string
	flagNoAudio bool
	flagNoVideo bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a call, creating a new room when none is given",
	Long: `Join a video call with your camera and microphone.

Examples:
  warpcall join
  warpcall join amber-fox-river-stone
  warpcall join --name Alice --no-video amber-fox-river-stone
  warpcall join --relay amber-fox-river-stone`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name shown to other participants")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "join without a microphone")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "join without a camera")
	addICEFlags(joinCmd)
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		roomID = roomid.New()
	} else if !roomid.Valid(roomID) {
		return fmt.Errorf("invalid room id %q", roomID)
	}

	cfg, err := loadConfig(config.Options{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	log := slog.Default()

	codecs, err := newCodecSelector()
	if err != nil {
		return fmt.Errorf("set up encoders: %w", err)
	}
	factory, err := peer.NewPionFactory(cfg, peer.PionOptions{
		RegisterCodecs: registerCodecs(codecs),
		Logger:         log,
	})
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()
	client := signaling.NewClient(cfg.WebSocketURL, log)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer client.Close()
	stopSpinner()

	l := loop.New()
	go l.Run(context.Background())
	defer l.Close()

	info := ui.NewRoomInfo(roomID, cfg.GetRoomLink(roomID))
	view := ui.NewRoomUI(info)
	devices := media.NewDeviceProvider(codecs, log)
	call := session.New(session.Config{
		RoomID:            roomID,
		DisplayName:       displayName(),
		Audio:             !flagNoAudio,
		Video:             !flagNoVideo,
		KeepaliveInterval: cfg.KeepaliveInterval,
		Media: media.Options{
			UpgradeDelay:     cfg.UpgradeDelay,
			LivenessInterval: cfg.LivenessInterval,
			BackoffBase:      cfg.CaptureBackoff,
			MaxAttempts:      cfg.CaptureAttempts,
		},
	}, session.Deps{
		Loop:    l,
		Relay:   client,
		Capture: devices,
		Display: devices,
		Peers:   factory,
		Logger:  log,
		OnError: view.ReportError,
	})

	capture := ui.NewCaptureSpinner("Starting camera and microphone...")
	capture.Start()
	if err := call.Start(ctx); err != nil {
		capture.Error("Could not join the call")
		call.Leave(context.Background())
		return err
	}
	capture.Success("Joined as " + call.ID())
	if ps, err := call.Participants(ctx); err == nil {
		for _, p := range ps {
			if !p.IsLocal {
				continue
			}
			if w := ui.CaptureWarning(!flagNoAudio, !flagNoVideo, p); w != "" {
				ui.PrintWarning(w)
			}
		}
	}

	fmt.Println(info.View())

	unsubscribe := call.Subscribe(func(list []room.Participant) { view.Participants(list) })
	defer unsubscribe()

	go func() {
		select {
		case <-ctx.Done():
			call.Leave(context.Background())
		case <-client.Closed():
			call.Leave(context.Background())
		case <-call.Done():
		}
	}()

	if err := view.Run(call); err != nil {
		call.Leave(context.Background())
		return fmt.Errorf("room view: %w", err)
	}
	call.Leave(context.Background())

	if summary, err := call.Summary(context.Background()); err == nil {
		fmt.Println()
		ui.RenderCallSummary(summary)
	}
	return nil
}

func displayName() string {
	if flagName != "" {
		return flagName
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "guest"
}
