package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/VenkatGGG/gpu-reserve/internal/api"
	"github.com/VenkatGGG/gpu-reserve/internal/config"
)

func newStatusCommand(cfg *config.Config) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current holder and queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()
			if watch {
				return api.WatchStatus(ctx, cfg.StatusURL(), func(view api.StatusView) error {
					printStatus(out, view)
					return nil
				})
			}
			client := &http.Client{Timeout: 5 * time.Second}
			view, err := api.FetchStatus(ctx, client, cfg.StatusURL())
			if err != nil {
				return err
			}
			printStatus(out, view)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream updates until interrupted")
	return cmd
}

func printStatus(w io.Writer, view api.StatusView) {
	fmt.Fprintf(w, "at %s\n", view.At.Local().Format(time.DateTime))
	if view.Active != nil {
		fmt.Fprintf(w, "holder: %s (urgent=%t, target %s)\n",
			view.Active.Email, view.Active.Urgent, view.Active.TargetAt.Local().Format(time.DateTime))
	} else {
		fmt.Fprintln(w, "holder: none")
	}
	if view.GPU.Sampled {
		fmt.Fprintf(w, "gpu: %d/%d MiB, %d%% util\n", view.GPU.UsedMiB, view.GPU.TotalMiB, view.GPU.UtilizationPercent)
	}
	for i, req := range view.Pending {
		fmt.Fprintf(w, "%2d. %s urgent=%t target=%s\n",
			i+1, req.Email, req.Urgent, req.TargetAt.Local().Format(time.DateTime))
	}
}
