package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/roomid"
	"github.com/BioHazard786/huddle/internal/ui"
)

const joinTimeout = 30 * time.Second

var (
	flagJoinServer string
	flagName       string
	flagVideo      string
	flagAudio      string
	flagNoAudio    bool
	flagNoVideo    bool
	flagRecord     string
	flagShare      string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagForceRelay bool
)

var joinCmd = &cobra.Command{
	Use:   "join [room]",
	Short: "Join a call from the terminal",
	Long: `Join a huddle room as a headless participant.

Local media comes from files (--video for IVF/VP8, --audio for Ogg/Opus) or from
generated silence and a paced video track. Remote streams are listed live and can
be recorded with --record. Without a room argument a new room id is generated.

Keys: m mute/unmute, c camera on/off, s share/stop sharing, q leave.

Examples:
  huddle join
  huddle join brave-otter-lantern --name Ada
  huddle join standup --video cam.ivf --audio mic.ogg --record ./recordings
  huddle join standup --share slides.ivf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := ""
		if len(args) == 1 {
			room = args[0]
		}
		return join(cmd.Context(), room)
	},
}

func join(ctx context.Context, room string) error {
	cfg, err := LoadConfig(config.Options{
		Server:      flagJoinServer,
		DisplayName: flagName,
		VideoFile:   flagVideo,
		AudioFile:   flagAudio,
		RecordDir:   flagRecord,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagForceRelay,
	})
	if err != nil {
		return err
	}

	if room == "" {
		room = roomid.New()
	} else if !roomid.Valid(room) {
		return fmt.Errorf("invalid room id %q: use letters, digits, '-' or '_'", room)
	}

	wsURL, err := cfg.Client.WebSocketURL()
	if err != nil {
		return err
	}
	link, err := cfg.Client.RoomLink(room)
	if err != nil {
		return err
	}

	session, err := call.NewSession(call.Options{
		ServerURL:     wsURL,
		DisplayName:   cfg.Client.DisplayName,
		ICE:           cfg.ICE,
		AudioFile:     cfg.Client.AudioFile,
		VideoFile:     cfg.Client.VideoFile,
		NoAudio:       flagNoAudio,
		NoVideo:       flagNoVideo,
		RecordDir:     cfg.Client.RecordDir,
		LoggerFactory: logging.PionFactory(logging.ParseLevel(cfg.Logging.Level)),
	})
	if err != nil {
		return err
	}
	defer session.Leave()

	spinner := ui.NewConnectionSpinner(fmt.Sprintf("Joining %s...", room))
	spinner.Start()

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	if err := session.Connect(joinCtx); err != nil {
		spinner.Error("Could not reach the server")
		return err
	}
	if err := session.Join(joinCtx, room); err != nil {
		if errors.Is(err, call.ErrRoomFull) {
			spinner.Error(fmt.Sprintf("Room %s is full", room))
		} else {
			spinner.Stop()
		}
		return err
	}
	spinner.Stop()

	fmt.Fprintln(ui.Output, ui.NewRoomInfo(room, link).View())

	var openShare ui.ShareOpener
	if flagShare != "" {
		openShare = func() (call.SampleReader, error) {
			return call.OpenIVF(flagShare, false)
		}
	}

	capacity := roomCapacity(joinCtx, &cfg.Client, room)
	if err := ui.RunCall(ui.NewCallModel(session, room, link, capacity, openShare)); err != nil {
		return err
	}

	session.Leave()
	ui.PrintInfo(ui.IconLeave + " Left the call")
	if recs := session.Recordings(); len(recs) > 0 {
		fmt.Fprintln(ui.Output, ui.RecordingsTable(recs))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinServer, "server", "S", "", "Server host[:port] or URL (default localhost:8080)")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF (VP8) file looped as the camera")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg (Opus) file looped as the microphone")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not publish audio")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Do not publish video")
	joinCmd.Flags().StringVarP(&flagRecord, "record", "r", "", "Record remote streams into this directory")
	joinCmd.Flags().StringVar(&flagShare, "share", "", "IVF (VP8) file played when sharing the screen")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagForceRelay, "relay", false, "Only use TURN relay candidates")
}
