package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dropline/internal/client"
	"dropline/internal/logging"
	"dropline/pkg/types"
)

func newRootCmd() *cobra.Command {
	logCfg := logging.DefaultConfig()

	root := &cobra.Command{
		Use:   "dropline",
		Short: "Room-based file transfer",
		Long: `dropline moves a file from a sender to a receiver through a short-lived room.
The sender opens a room and shares its id; the receiver joins with that id.
Chunks travel through the relay or, with --mode direct, over a WebRTC data channel.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logCfg.Level, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logCfg.Format, "log-format", logCfg.Format, "log format (text, json)")

	root.AddCommand(newServeCmd(logCfg), newSendCmd(logCfg), newReceiveCmd(logCfg))
	return root
}

// clientFlags are shared by send and receive.
type clientFlags struct {
	server   string
	stun     []string
	loopback bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "ws://localhost:8080/ws", "relay websocket URL")
	cmd.Flags().StringSliceVar(&f.stun, "stun", client.DefaultSTUNServers, "STUN servers for the direct data path")
	cmd.Flags().BoolVar(&f.loopback, "loopback", false, "gather loopback candidates when both peers share a host")
}

func (f *clientFlags) client(logger logrus.FieldLogger, pace time.Duration) *client.Client {
	return client.New(client.Options{
		ServerURL: f.server,
		Pace:      pace,
		Direct:    client.DirectConfig{STUNServers: f.stun, IncludeLoopback: f.loopback},
		Logger:    logger,
	})
}

func newLogger(cmd *cobra.Command, cfg *logging.Config) (*logrus.Logger, error) {
	return logging.NewWithOutput(cfg, cmd.ErrOrStderr())
}

// newBar shows byte progress on w. A zero-length file gets no bar.
func newBar(w io.Writer, size int64, description string) *progressbar.ProgressBar {
	if size <= 0 {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
}

// setBar moves the bar to the byte offset reached after chunks of total.
func setBar(bar *progressbar.ProgressBar, chunks, total int, size int64) {
	if bar == nil {
		return
	}
	if chunks >= total {
		_ = bar.Finish()
		return
	}
	_ = bar.Set64(chunkBytes(chunks, size))
}

func chunkBytes(chunks int, size int64) int64 {
	n := int64(chunks) * types.ChunkSize
	if n > size {
		return size
	}
	return n
}
