package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"settings_sync/internal/config"
	"settings_sync/internal/server"
	"settings_sync/internal/utils"

	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	var (
		opts      server.SimOptions
		heartbeat time.Duration
		strategy  string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run peers in process over a lossy bus and check they converge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			cfg.HeartbeatInterval = heartbeat
			cfg.PeerTimeout = 3 * heartbeat
			cfg.ConflictStrategy = strategy
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.Config = &cfg
			if verbose {
				logs := utils.NewManager("", "debug")
				defer logs.Sync()
				opts.Logger = logs.Logger("simulate")
			}

			report, err := server.Simulate(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tALIVE\tLEADER\tSELF LEADER\tKNOWN PEERS")
			for _, p := range report.Peers {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%t\t%d\n", p.ID, p.Alive, p.Leader, p.IsLeader, p.Peers)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if report.Crashed != "" {
				fmt.Fprintf(out, "crashed leader: %s\n", report.Crashed)
			}
			fmt.Fprintf(out, "deliveries: %d, conflicts detected: %d, keys in agreement: %d/%d\n",
				report.Delivered, report.ConflictEvents, report.KeysAgreed, report.KeysTotal)
			fmt.Fprintf(out, "converged: %t (leader %s)\n", report.Converged, report.Leader)
			if !report.Converged {
				return fmt.Errorf("peers did not converge")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Peers, "peers", 5, "number of peers")
	f.IntVar(&opts.Rounds, "rounds", 30, "lossy heartbeat rounds before settling")
	f.Float64Var(&opts.Loss, "loss", 0.2, "probability of dropping each delivery")
	f.BoolVar(&opts.CrashLeader, "crash-leader", true, "crash the leader halfway through")
	f.IntVar(&opts.WritesPerRound, "writes", 1, "random setting writes per round")
	f.Int64Var(&opts.Seed, "seed", 1, "random seed")
	f.DurationVar(&heartbeat, "heartbeat-interval", time.Second, "virtual heartbeat interval")
	f.StringVar(&strategy, "conflict-strategy", "leader-wins", "conflict strategy")
	f.BoolVarP(&verbose, "verbose", "v", false, "log every peer to stderr")
	return cmd
}
