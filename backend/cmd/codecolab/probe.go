package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"codeColab/backend/internal/client"
	"codeColab/backend/internal/httpapi/middleware"
	"codeColab/backend/internal/logging"
	"codeColab/backend/internal/room"
	"codeColab/backend/internal/voicechat"
)

var (
	flagServer   string
	flagRoom     string
	flagName     string
	flagToken    string
	flagSecret   string
	flagVoice    bool
	flagDuration time.Duration

	flagAwareness bool
	flagRedis     string
	flagEditEvery time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Join a room as a headless client and log roster and voice changes",
	Long: `Join a room on a running relay and log every roster and voice change.

Examples:
  codecolab probe --room r1 --name alice
  codecolab probe --server ws://localhost:3002/collab/ws --room r1 --name bob --voice
  codecolab probe --room r1 --name carol --secret dev-secret --duration 30s
  codecolab probe --room r1 --name dave --awareness --redis 127.0.0.1:6379 --edit-every 1s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" || flagName == "" {
			return errors.New("--room and --name are required")
		}
		logging.Init("info")
		return probe(cmd.Context())
	},
}

func init() {
	probeCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:3002/collab/ws", "relay websocket url")
	probeCmd.Flags().StringVar(&flagRoom, "room", "", "room id to join")
	probeCmd.Flags().StringVar(&flagName, "name", "", "display name")
	probeCmd.Flags().StringVar(&flagToken, "token", "", "access token sent as Bearer")
	probeCmd.Flags().StringVar(&flagSecret, "secret", "", "sign a token locally with this secret when --token is empty")
	probeCmd.Flags().BoolVar(&flagVoice, "voice", false, "join voice with a silent microphone")
	probeCmd.Flags().DurationVar(&flagDuration, "duration", 0, "leave after this long (0 waits for interrupt)")
	probeCmd.Flags().BoolVar(&flagAwareness, "awareness", false, "share cursor and selection state over redis and log remote peers")
	probeCmd.Flags().StringVar(&flagRedis, "redis", "127.0.0.1:6379", "redis address carrying awareness frames")
	probeCmd.Flags().DurationVar(&flagEditEvery, "edit-every", 0, "with --awareness, move the cursor and type at this interval (0 stays idle)")
}

func probe(ctx context.Context) error {
	token := flagToken
	if token == "" && flagSecret != "" {
		signed, _, err := middleware.SignAccessToken([]byte(flagSecret), 0, flagName, time.Hour)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		token = signed
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c, err := client.Dial(ctx, flagServer, header)
	if err != nil {
		return err
	}
	session := client.NewSession(c)
	defer session.Close()

	failed := make(chan error, 1)
	session.OnFailure(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	session.OnRosterChange(func(members []room.Member) {
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.Username)
		}
		slog.Info("roster", "room", flagRoom, "size", len(members), "members", names)
	})

	var mesh *voicechat.Mesh
	if flagVoice {
		factory, err := voicechat.NewPionFactory(voicechat.DefaultSTUNServers)
		if err != nil {
			return err
		}
		mesh = voicechat.NewMesh(c, factory, voicechat.SilentMicrophone{})
		mesh.Bind(c)
	}

	if err := session.Join(flagRoom, flagName); err != nil {
		return err
	}
	if mesh != nil {
		if err := mesh.Join(ctx, flagRoom, flagName); err != nil {
			return err
		}
		defer mesh.Leave()
		go logPeers(ctx, mesh)
	}
	if flagAwareness {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{flagRedis}})
		defer rdb.Close()
		p, err := startPresence(ctx, rdb, flagRoom, flagName)
		if err != nil {
			return fmt.Errorf("awareness: %w", err)
		}
		defer p.Close()
		if flagEditEvery > 0 {
			go p.simulate(ctx, flagEditEvery)
		}
	}

	var timeout <-chan time.Time
	if flagDuration > 0 {
		timer := time.NewTimer(flagDuration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return nil
	case <-timeout:
		return nil
	case err := <-failed:
		return fmt.Errorf("connection lost: %w", err)
	}
}

func logPeers(ctx context.Context, mesh *voicechat.Mesh) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := mesh.Peers()
			if len(peers) != last {
				last = len(peers)
				slog.Info("voice peers", "count", last, "peers", peers)
			}
		}
	}
}
