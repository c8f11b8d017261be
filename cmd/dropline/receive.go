package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"dropline/internal/client"
	"dropline/internal/logging"
	"dropline/internal/transfer"
	"dropline/pkg/types"
)

func newReceiveCmd(logCfg *logging.Config) *cobra.Command {
	var (
		flags   clientFlags
		outDir  string
		spill   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "receive ROOM",
		Short: "Join a room and save its file",
		Long: `receive joins a room, reassembles the file and saves it under --out. Nothing
is written unless the whole file arrives before --timeout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd, logCfg)
			if err != nil {
				return err
			}

			store := transfer.MemoryStoreFactory
			if spill {
				// Spill next to the destination so saving is a rename.
				store = transfer.SpillStoreFactory(outDir)
			}

			out := cmd.OutOrStdout()
			var (
				bar  *progressbar.ProgressBar
				size int64
			)
			blob, err := flags.client(logger, 0).Receive(cmd.Context(), client.ReceiveRequest{
				RoomID:   args[0],
				Timeout:  timeout,
				NewStore: store,
				OnReady: func(m types.FileMetadata, mode types.DataPath) {
					size = m.FileSize
					_, _ = fmt.Fprintf(out, "Receiving %s (%d bytes, %s)\n", m.FileName, m.FileSize, mode)
					bar = newBar(cmd.ErrOrStderr(), m.FileSize, "receiving")
				},
				OnProgress: func(p transfer.Progress) {
					setBar(bar, p.Received, p.Total, size)
				},
			})
			if err != nil {
				return err
			}

			dest := filepath.Join(outDir, safeName(blob.Name))
			if err := blob.SaveAs(dest); err != nil {
				_ = blob.Close()
				return fmt.Errorf("save %s: %w", dest, err)
			}
			_, _ = fmt.Fprintf(out, "Saved %s\n", dest)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to save into")
	cmd.Flags().BoolVar(&spill, "spill", false, "buffer chunks in a temp file instead of memory")
	cmd.Flags().DurationVar(&timeout, "timeout", transfer.DefaultTimeout, "give up if the file is not complete by then")
	return cmd
}

// safeName keeps the sender's file name from escaping the output directory.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "download"
	}
	return name
}
