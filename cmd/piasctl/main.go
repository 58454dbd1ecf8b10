// Package main provides the piasctl CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanonone/pias/pkg/client"
	"github.com/sanonone/pias/pkg/store"
)

var (
	address   string
	adminURL  string
	authToken string
	timeout   time.Duration

	updateWait      bool
	stateSeg        bool
	importPrecision string
)

var outcomeNames = []string{
	"SUCCESS",
	"NO_LABEL_FOR_SOME_CLASSES",
	"CLASSIFIER_TRAINING_FAILED",
	"OPTIMIZATION_FAILED",
	"UNKNOWN_ERROR",
}

func outcomeName(code int64) string {
	if code >= 0 && int(code) < len(outcomeNames) {
		return outcomeNames[code]
	}
	return "outcome(" + strconv.FormatInt(code, 10) + ")"
}

var rootCmd = &cobra.Command{
	Use:           "piasctl",
	Short:         "piasctl drives an interactive graph-segmentation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the service answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			start := time.Now()
			if err := c.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong in %s\n", time.Since(start).Round(time.Microsecond))
			return nil
		})
	},
}

var solutionCmd = &cobra.Command{
	Use:   "solution",
	Short: "Print the latest segmentation, one group id per node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			seg, err := c.CurrentSolution(ctx)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(seg)
		})
	},
}

var labelCmd = &cobra.Command{
	Use:   "label <u> <v> <label> [<u> <v> <label>...]",
	Short: "Label edges (1 = merge, 0 = separate)",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%3 != 0 {
			return fmt.Errorf("expected triples of <u> <v> <label>, got %d arguments", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		triples, err := parseTriples(args)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			applied, err := c.SetEdgeLabels(ctx, triples)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d of %d labels\n", applied, len(triples))
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Request a new solution",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			id, err := c.RequestUpdate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued solution %d\n", id)
			if !updateWait {
				return nil
			}
			r, err := client.NewAdmin(adminURL, authToken).WaitRound(ctx, id, 100*time.Millisecond)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "solution %d: %s\n", id, r.Outcome)
			if r.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r.Error)
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print new-solution notifications until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := client.Dial(address)
		if err != nil {
			return err
		}
		defer c.Close()

		notes, err := c.Subscribe(ctx)
		if err != nil {
			return err
		}
		for note := range notes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s solution %d %s\n",
				time.Now().Format(time.RFC3339), note.SolutionID, outcomeName(note.Outcome))
		}
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the service state from the admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := client.NewAdmin(adminURL, authToken).State(ctx, stateSeg)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload edge features from the graph store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := client.NewAdmin(adminURL, authToken).Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "refreshed")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <edges.csv> <graph.db>",
	Short: "Write a CSV edge list (u,v,features...) into a SQLite graph store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := importCSV(cmd.Context(), args[0], args[1], store.Precision(importPrecision))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d edges into %s\n", n, args[1])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&address, "address", envOr("PIAS_ADDRESS", "unix:///tmp/pias"), "Messaging base address")
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin", envOr("PIAS_ADMIN_URL", "http://localhost:9095"), "Admin HTTP base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("PIAS_AUTH_TOKEN"), "Admin bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	updateCmd.Flags().BoolVar(&updateWait, "wait", false, "Wait for the round to finish (uses the admin API)")
	stateCmd.Flags().BoolVar(&stateSeg, "segmentation", false, "Include the latest segmentation")
	importCmd.Flags().StringVar(&importPrecision, "precision", string(store.Float32), "Feature precision (float32 or float16)")

	rootCmd.AddCommand(pingCmd, solutionCmd, labelCmd, updateCmd, watchCmd, stateCmd, refreshCmd, importCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := client.Dial(address)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func parseTriples(args []string) ([]client.Triple, error) {
	triples := make([]client.Triple, 0, len(args)/3)
	for i := 0; i+2 < len(args); i += 3 {
		var vals [3]int64
		for k := range vals {
			v, err := strconv.ParseInt(args[i+k], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+k+1, err)
			}
			vals[k] = v
		}
		triples = append(triples, client.Triple{U: vals[0], V: vals[1], Label: vals[2]})
	}
	return triples, nil
}

func importCSV(ctx context.Context, csvPath, dbPath string, precision store.Precision) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ds, err := store.ReadCSV(f)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", csvPath, err)
	}
	if err := ds.Validate(); err != nil {
		return 0, err
	}

	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	if err := db.Save(ctx, ds, precision); err != nil {
		return 0, err
	}
	return len(ds.Edges), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
