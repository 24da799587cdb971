package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/st-keller/charsync"
	"github.com/st-keller/charsync/character"
	"github.com/st-keller/charsync/connectivity"
	"github.com/st-keller/charsync/eventlog"
	"github.com/st-keller/charsync/schema"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Session  string
	Interval time.Duration
	Endpoint string
	APIKey   string
	Mode     string
	Drain    int
}

// ReplayResult is the summary printed after a replay.
type ReplayResult struct {
	Snapshots int                `json:"snapshots"`
	Status    charsync.Status    `json:"status"`
	Pending   bool               `json:"pending"`
	Stats     connectivity.Stats `json:"stats"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded session against an endpoint",
		Long: `Feed recorded character snapshots to the sync engine, one per tick.

Configuration comes from CHARSYNC_* environment variables; flags override them.
Each tick sends only the fields that changed since the previous tick. A failed
payload is resent on the next tick that has no new changes.

Examples:
  charsync replay --session run.yaml --endpoint https://tracker.example/api/character --api-key KEY
  charsync replay --session run.yaml --mode stream --endpoint wss://tracker.example/ws --interval 1s
  charsync replay --session run.yaml --format json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "path to session YAML (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 500*time.Millisecond, "time between ticks")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "override CHARSYNC_ENDPOINT")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "override CHARSYNC_API_KEY")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "override CHARSYNC_MODE (request|stream)")
	cmd.Flags().IntVar(&opts.Drain, "drain", 3, "extra idle ticks after the last snapshot to flush a pending retry")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := replayConfig(opts)
	if err != nil {
		return err
	}

	session, err := character.LoadSession(opts.Session)
	if err != nil {
		return err
	}

	logs := eventlog.New(config.LogEntries)
	if !opts.Verbose {
		logs.Quiet()
	} else {
		log.SetOutput(cmd.ErrOrStderr())
	}

	var sch *schema.Schema[*character.Character]
	if config.Mode == charsync.ModeStream {
		sch = character.StreamSchema()
	} else {
		sch = character.RequestSchema()
	}

	engine, err := charsync.New(config, sch, charsync.WithLogs(logs))
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Connect(ctx); err != nil {
		// Not fatal: the first failed tick reconnects.
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	tickAndWait := func(c *character.Character) error {
		engine.Tick(c)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			return nil
		}
	}

	for i := range session.Snapshots {
		if err := tickAndWait(&session.Snapshots[i]); err != nil {
			return err
		}
	}

	last := &session.Snapshots[len(session.Snapshots)-1]
	for i := 0; i < opts.Drain && engine.Pending(); i++ {
		if err := tickAndWait(last); err != nil {
			return err
		}
	}
	engine.Wait()

	result := ReplayResult{
		Snapshots: len(session.Snapshots),
		Status:    engine.Status(),
		Pending:   engine.Pending(),
		Stats:     engine.Stats(),
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return outputReplayText(cmd, result)
}

// replayConfig loads env config and applies flag overrides.
func replayConfig(opts *ReplayOptions) (charsync.Config, error) {
	config, err := charsync.LoadConfigFromEnv()
	if err != nil {
		return charsync.Config{}, err
	}

	if opts.Endpoint != "" {
		config.Endpoint = opts.Endpoint
	}
	if opts.APIKey != "" {
		config.APIKey = opts.APIKey
	}
	if opts.Mode != "" {
		if err := config.Mode.UnmarshalText([]byte(opts.Mode)); err != nil {
			return charsync.Config{}, err
		}
	}
	if opts.Interval <= 0 {
		return charsync.Config{}, fmt.Errorf("interval must be positive")
	}

	if err := config.Validate(); err != nil {
		return charsync.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d snapshots\n", result.Snapshots)
	fmt.Fprintf(out, "Status:  %s\n", result.Status)
	if result.Pending {
		fmt.Fprintln(out, "Pending: yes (last payload not delivered)")
	}
	for _, ep := range result.Stats.Endpoints {
		fmt.Fprintf(out, "Endpoint %s: %s, %d calls, %.0f%% ok, p50 %dms\n",
			ep.URL, ep.Status, ep.TotalCalls, ep.SuccessRate*100, ep.LatencyMs.P50)
	}
	return nil
}
