package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/VenkatGGG/gpu-reserve/internal/config"
	"github.com/VenkatGGG/gpu-reserve/internal/ingest"
	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

const submitTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "gpureserve",
		Short: "Queue and arbitrate reservations for a shared GPU",
		Long: "Reserve:        gpureserve user EMAIL [DATE] [TIME]\n" +
			"Urgent:         gpureserve urg EMAIL\n" +
			"Release:        gpureserve finish EMAIL\n" +
			"Start server:   gpureserve server ACCOUNT SMTP_PASSWORD\n" +
			"Stop server:    gpureserve stop\n" +
			"Show the queue: gpureserve status [--watch]",
		SilenceUsage: true,
	}
	root.AddCommand(
		newUserCommand(&cfg),
		newUrgentCommand(&cfg),
		newFinishCommand(&cfg),
		newServerCommand(&cfg),
		newSubserverCommand(&cfg),
		newStopCommand(&cfg),
		newStatusCommand(&cfg),
	)
	return root
}

func newUserCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "user EMAIL [DATE] [TIME]",
		Short:   "Queue a reservation, optionally for a target date and time",
		Example: "  gpureserve user alice@example.com 2022-1-1 14:30:00",
		Args:    cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			email := args[0]
			if err := reservation.ValidateEmail(email); err != nil {
				return err
			}
			var date, clock string
			if len(args) > 1 {
				date = args[1]
			}
			if len(args) > 2 {
				clock = args[2]
			}
			target, err := reservation.ParseTarget(date, clock, now)
			if err != nil {
				return err
			}
			return submit(cmd, cfg.ListenAddr, reservation.NewRequest(email, target, false, false, now))
		},
	}
}

func newUrgentCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "urg EMAIL",
		Short: "Queue an urgent reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reservation.ValidateEmail(args[0]); err != nil {
				return err
			}
			return submit(cmd, cfg.ListenAddr, reservation.NewRequest(args[0], time.Time{}, true, false, time.Now()))
		},
	}
}

func newFinishCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "finish EMAIL",
		Short: "Release or cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := reservation.ValidateEmail(args[0]); err != nil {
				return err
			}
			return submit(cmd, cfg.ListenAddr, reservation.NewRequest(args[0], time.Time{}, false, true, time.Now()))
		},
	}
}

func newStopCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running scheduler to persist and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submit(cmd, cfg.ListenAddr, reservation.StopRequest(time.Now()))
		},
	}
}

func submit(cmd *cobra.Command, addr string, req reservation.Request) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), submitTimeout)
	defer cancel()
	if err := ingest.Submit(ctx, addr, req); err != nil {
		return fmt.Errorf("no scheduler reachable at %s: %w", addr, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
