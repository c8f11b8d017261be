package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"dropline/internal/client"
	"dropline/internal/logging"
	"dropline/pkg/types"
)

func newSendCmd(logCfg *logging.Config) *cobra.Command {
	var (
		flags  clientFlags
		roomID string
		mode   string
		pace   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send FILE",
		Short: "Offer a file in a new room",
		Long: `send opens a room, prints its id and waits for a receiver. The file streams to
the first receiver that joins; the command exits once every chunk is handed off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPath := types.DataPath(mode)
			if !types.IsValidDataPath(dataPath) {
				return fmt.Errorf("unknown mode %q (want relay or direct)", mode)
			}
			logger, err := newLogger(cmd, logCfg)
			if err != nil {
				return err
			}

			src, err := client.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			out := cmd.OutOrStdout()
			var bar *progressbar.ProgressBar
			err = flags.client(logger, pace).Send(cmd.Context(), client.SendRequest{
				RoomID: roomID,
				Source: src,
				Mode:   dataPath,
				OnRoomCreated: func(id string) {
					_, _ = fmt.Fprintf(out, "Room %s is open for %s (%d bytes).\n", id, src.Name, src.Size)
					_, _ = fmt.Fprintf(out, "Receive it with:\n  dropline receive %s --server %s\n", id, flags.server)
				},
				OnRecipient: func(string) {
					bar = newBar(cmd.ErrOrStderr(), src.Size, "sending")
				},
				OnProgress: func(sent, total int) {
					setBar(bar, sent, total, src.Size)
				},
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "Sent.")
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "room id (default: random UUID)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(types.DataPathRelay), "data path: relay or direct")
	cmd.Flags().DurationVar(&pace, "pace", client.DefaultPace, "delay between chunks on the relay path")
	return cmd
}
