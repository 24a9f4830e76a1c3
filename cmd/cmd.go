// Package cmd wires the CLI front-end. It is a thin consumer of core
// events and issuer of core commands; all protocol state lives in core.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"

	"github.com/ipmsg-go/ipmsg/core"
	"github.com/ipmsg-go/ipmsg/logger"
)

func New() *cli.Command {
	return &cli.Command{
		Name:    "ipmsg",
		Usage:   "a LAN instant messenger speaking the legacy udp broadcast protocol",
		Version: core.VERSION,
		Action:  rootAction,
		Commands: []*cli.Command{
			serveCommand(),
			sendCommand(),
		},
	}
}

func rootAction(ctx context.Context, cmd *cli.Command) error {
	figure.NewFigure("ipmsg", "", true).Print()
	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

func defaultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "account name announced to peers",
		},
		&cli.StringFlag{
			Name:  "nick",
			Usage: "display nickname",
		},
		&cli.StringFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "group announced in presence broadcasts",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   core.DefaultPort,
			Usage:   "udp port",
		},
		&cli.StringFlag{
			Name:    "bAddr",
			Aliases: []string{"b"},
			Value:   core.DefaultBroadcastAddr,
			Usage:   "broadcast address",
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "download directory for accepted files",
		},
		&cli.IntFlag{
			Name:  "port-lo",
			Value: core.DefaultPortRangeLo,
			Usage: "low end of the tcp transfer port range",
		},
		&cli.IntFlag{
			Name:  "port-hi",
			Value: core.DefaultPortRangeHi,
			Usage: "high end of the tcp transfer port range",
		},
		&cli.DurationFlag{
			Name:  "heartbeat",
			Value: core.DefaultHeartbeatInterval,
			Usage: "presence broadcast interval",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: core.DefaultPeerTimeout,
			Usage: "silence after which a peer is marked offline",
		},
		&cli.StringFlag{
			Name:  "log",
			Usage: "log file path",
		},
	}
}

func configFrom(cmd *cli.Command) core.Config {
	cfg := core.DefaultConfig()
	if name := cmd.String("name"); name != "" {
		cfg.Username = name
	}
	cfg.Nickname = cmd.String("nick")
	cfg.Group = cmd.String("group")
	cfg.Port = int(cmd.Int("port"))
	cfg.BroadcastAddr = cmd.String("bAddr")
	cfg.PortRangeLo = int(cmd.Int("port-lo"))
	cfg.PortRangeHi = int(cmd.Int("port-hi"))
	if dir := cmd.String("dir"); dir != "" {
		cfg.DownloadDir = dir
	}
	cfg.HeartbeatInterval = cmd.Duration("heartbeat")
	cfg.PeerTimeout = cmd.Duration("timeout")
	return cfg
}

func loggerFrom(cmd *cli.Command) (logger.Logger, error) {
	path := cmd.String("log")
	if path == "" {
		var err error
		path, err = logger.LogPath()
		if err != nil {
			return nil, err
		}
	}
	return logger.New(path), nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the messenger, printing messages and surfacing file offers",
		Flags: append(defaultFlags(),
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "accept incoming file offers without asking",
			},
		),
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	log, err := loggerFrom(cmd)
	if err != nil {
		return err
	}

	client, err := core.NewClient(configFrom(cmd), log)
	if err != nil {
		return err
	}

	events, cancel := client.Subscribe()
	defer cancel()

	go consume(ctx, client, events, cmd.Bool("yes"))

	fmt.Println(infoStyle.Render("Listening as " + client.LocalAddr()))
	return client.Run(ctx)
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "send a one-shot message or file to a peer",
		Flags: append(defaultFlags(),
			&cli.StringFlag{
				Name:     "to",
				Usage:    "peer ip address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "msg",
				Usage: "message text to send",
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "file path to offer",
			},
		),
		Action: sendAction,
	}
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	to := cmd.String("to")
	msg := cmd.String("msg")
	file := cmd.String("file")
	if msg == "" && file == "" {
		return fmt.Errorf("nothing to send, use --msg or --file")
	}

	log, err := loggerFrom(cmd)
	if err != nil {
		return err
	}

	client, err := core.NewClient(configFrom(cmd), log)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	errch := make(chan error, 1)
	go func() { errch <- client.Run(runCtx) }()

	// Give the socket and first heartbeat a moment before unicasting.
	select {
	case err := <-errch:
		return err
	case <-time.After(500 * time.Millisecond):
	}

	events, cancel := client.Subscribe()
	defer cancel()
	go consume(runCtx, client, events, false)

	if msg != "" {
		if err := client.SendMessage(to, msg); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Message sent to " + to))
	}

	if file != "" {
		task, err := client.RequestSend(to, file)
		if err != nil {
			return err
		}
		fmt.Println(infoStyle.Render(fmt.Sprintf("Offered %s to %s, waiting...", task.FileName, to)))

		switch st := task.WaitTerminal(5 * time.Minute); st {
		case core.StatusCompleted:
			fmt.Println(successStyle.Render(fmt.Sprintf("Sent %s (%d bytes, sha256 %s)",
				task.FileName, task.Transferred(), task.Checksum())))
		default:
			reason := st.String()
			if err := task.Err(); err != nil {
				reason = err.Error()
			}
			return fmt.Errorf("transfer did not complete: %s", reason)
		}
	}

	stop()
	return <-errch
}
