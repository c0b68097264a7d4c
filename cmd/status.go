package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"worker-preview/config"
	"worker-preview/entities"
	server2 "worker-preview/server"
)

func status(config *config.Config) *cobra.Command {
	var videoId int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the derivatives recorded for a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, closeRepo, err := server2.NewRepository(ctx, config)
			if err != nil {
				return err
			}
			defer closeRepo()

			found, err := repo.FindByVideoId(ctx, videoId)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no derivatives for video %d\n", videoId)
				return nil
			}
			renderDerivatives(cmd.OutOrStdout(), found, time.Now())
			return nil
		},
	}
	cmd.Flags().Int64Var(&videoId, "video-id", 0, "source video id")
	_ = cmd.MarkFlagRequired("video-id")
	return cmd
}

func renderDerivatives(w io.Writer, derivatives []*entities.Derivative, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Kind", "Status", "Name", "Size", "Updated", "Failure"})
	for _, d := range derivatives {
		name, size := "-", "-"
		if d.Name != nil {
			name = *d.Name
		}
		if d.Size != nil && *d.Size >= 0 {
			size = humanize.Bytes(uint64(*d.Size))
		}
		t.AppendRow(table.Row{
			d.ID.String(),
			d.Kind.String(),
			d.Status.String(),
			name,
			size,
			humanize.RelTime(d.UpdatedAt, now, "ago", "from now"),
			d.FailureReason,
		})
	}
	t.Render()
}
