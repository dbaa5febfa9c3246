package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/collab-copilot/backend/internal/config"
	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/collab-copilot/backend/internal/service/realtime"
)

type probeOptions struct {
	serverURL string
	meetingID string
	userID    string
	userName  string
	local     bool
	timeout   time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &probeOptions{}

	rootCmd := &cobra.Command{
		Use:          "chatprobe",
		Short:        "Connect to a meeting chat server and exchange events",
		Long:         "chatprobe joins a meeting through the same connection manager the backend uses.\nWithout a reachable server it falls back to the local channel.",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.serverURL, "server", cfg.Realtime.ServerURL, "chat server url (empty for local mode)")
	flags.StringVar(&opts.meetingID, "meeting", "", "meeting id (random when empty)")
	flags.StringVar(&opts.userID, "user", cfg.User.ID, "user id")
	flags.StringVar(&opts.userName, "name", cfg.User.Name, "display name")
	flags.BoolVar(&opts.local, "local", cfg.Realtime.ForceLocal, "skip the chat server and use the local channel")
	flags.DurationVar(&opts.timeout, "timeout", cfg.Realtime.ConnectTimeout, "connection timeout")

	rootCmd.AddCommand(newListenCmd(cfg, opts))
	rootCmd.AddCommand(newSendCmd(cfg, opts))
	rootCmd.AddCommand(newJoinCmd(cfg, opts))

	return rootCmd
}

func newListenCmd(cfg *config.Config, opts *probeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print messages and roster events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, identity, err := connect(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer manager.Close()

			fmt.Printf("listening on meeting %s via %s transport, Ctrl+C to stop\n", identity.MeetingID, manager.TransportName())
			<-ctx.Done()
			return nil
		},
	}
}

func newSendCmd(cfg *config.Config, opts *probeOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message and wait for its echo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manager, identity, err := connect(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer manager.Close()

			msg := meeting.Message{
				ID:         uuid.NewString(),
				Content:    strings.Join(args, " "),
				Sender:     identity.UserID,
				SenderName: identity.UserName,
				Timestamp:  time.Now().Format("15:04"),
			}

			echoed := make(chan struct{})
			unsubscribe := manager.OnMessage(func(in meeting.Message) {
				if in.ID == msg.ID {
					select {
					case <-echoed:
					default:
						close(echoed)
					}
				}
			})
			defer unsubscribe()

			if !manager.SendMessage(msg) {
				return errors.New("message could not be sent")
			}

			select {
			case <-echoed:
				fmt.Printf("message %s delivered\n", msg.ID)
				return nil
			case <-time.After(wait):
				return fmt.Errorf("no echo for message %s within %s", msg.ID, wait)
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the echo")
	return cmd
}

func newJoinCmd(cfg *config.Config, opts *probeOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Announce a participant in the meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}

			manager, identity, err := connect(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			defer manager.Close()

			if !manager.RegisterParticipant(meeting.Participant{Email: email, Name: identity.UserName, ID: identity.UserID}) {
				return errors.New("participant could not be registered")
			}
			fmt.Printf("registered %s in meeting %s\n", email, identity.MeetingID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "participant email")
	return cmd
}

// connect 根据命令行参数创建连接管理器并加入会议，收到的每个事件都会打印出来。
func connect(ctx context.Context, cfg *config.Config, opts *probeOptions) (*realtime.Manager, realtime.ConnectOptions, error) {
	remoteOpts := realtime.DefaultRemoteOptions()
	remoteOpts.MaxRetries = cfg.Realtime.MaxRetries
	remoteOpts.RetryDelay = cfg.Realtime.RetryDelay

	manager := realtime.NewManager(realtime.ManagerConfig{
		ServerURL:      opts.serverURL,
		ConnectTimeout: opts.timeout,
		Remote:         remoteOpts,
		LocalMode:      opts.local,
	}, realtime.NewLocalChannel(cfg.Realtime.LocalDelay), notify.LogNotifier{})

	manager.OnMessage(func(msg meeting.Message) {
		name := msg.SenderName
		if name == "" {
			name = msg.Sender
		}
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp, name, msg.Content)
	})
	manager.OnParticipant(func(evt meeting.ParticipantEvent) {
		switch evt.Type {
		case meeting.ParticipantJoined:
			if evt.Participant != nil {
				fmt.Printf("+ %s <%s>\n", evt.Participant.Name, evt.Participant.Email)
			}
		case meeting.ParticipantLeft:
			fmt.Printf("- %s\n", evt.ParticipantID)
		}
	})
	manager.OnConnectionStatus(func(connected bool) {
		fmt.Printf("connected: %t\n", connected)
	})

	identity := realtime.ConnectOptions{
		MeetingID: opts.meetingID,
		UserID:    opts.userID,
		UserName:  opts.userName,
	}
	if identity.MeetingID == "" {
		identity.MeetingID = uuid.NewString()
	}

	if !manager.Connect(ctx, identity) {
		manager.Close()
		return nil, identity, errors.New("no viable transport")
	}
	return manager, identity, nil
}
