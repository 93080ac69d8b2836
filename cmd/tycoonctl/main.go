package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/app"
	cl "tycoon/internal/cli"
	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/syncq"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tycoonctl",
		Short:        "Tycoon game client and admin tool",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoadCmd(&apiBase),
		newEditCmd(),
		newCollectCmd(),
		newSaveCmd(&apiBase),
		newSyncCmd(&apiBase),
		newCatalogCmd(&apiBase),
		newMigrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newLoadCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load USER_ID",
		Short: "Open the game: fetch state and offline rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Load(ctx, args[0])
			if err != nil {
				return err
			}
			state := cl.LocalState{
				UserID:         args[0],
				Capital:        out.Capital,
				Businesses:     out.Businesses,
				OfflineRewards: out.OfflineRewards,
				PulledAt:       time.Now().UTC(),
			}
			if err := cl.SaveState(state); err != nil {
				return err
			}
			renderState(state)
			if out.OfflineRewards.IsPositive() {
				printSuccess(fmt.Sprintf("Your managers earned %s while you were away. Run `tycoonctl collect %s` to take it.", out.OfflineRewards.StringFixed(2), args[0]))
			}
			return nil
		},
	}
}

func newEditCmd() *cobra.Command {
	var (
		level   int32
		managed string
		capital string
	)
	cmd := &cobra.Command{
		Use:   "edit USER_ID [BUSINESS_ID]",
		Short: "Change local state before saving",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := cl.LoadState(args[0])
			if err != nil {
				return err
			}
			if capital != "" {
				c, err := decimal.NewFromString(capital)
				if err != nil {
					return fmt.Errorf("invalid capital: %w", err)
				}
				state.Capital = c
			}
			if len(args) == 2 {
				id, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid business id: %w", err)
				}
				idx := -1
				for i := range state.Businesses {
					if state.Businesses[i].ID == id {
						idx = i
						break
					}
				}
				if idx < 0 {
					return fmt.Errorf("business %d not in catalog", id)
				}
				if cmd.Flags().Changed("level") {
					state.Businesses[idx].CurrentLevel = level
				}
				if managed != "" {
					b, err := strconv.ParseBool(managed)
					if err != nil {
						return fmt.Errorf("invalid --managed value: %w", err)
					}
					state.Businesses[idx].IsManaged = b
				}
			}
			if err := cl.SaveState(state); err != nil {
				return err
			}
			renderState(state)
			return nil
		},
	}
	cmd.Flags().Int32Var(&level, "level", 0, "business level")
	cmd.Flags().StringVar(&managed, "managed", "", "true or false")
	cmd.Flags().StringVar(&capital, "capital", "", "set capital")
	return cmd
}

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect USER_ID",
		Short: "Add pending offline rewards to local capital",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := cl.LoadState(args[0])
			if err != nil {
				return err
			}
			r := state.CollectOfflineRewards()
			if err := cl.SaveState(state); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Collected %s. Capital is now %s.", r.StringFixed(2), state.Capital.StringFixed(2)))
			return nil
		},
	}
}

func newSaveCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "save USER_ID",
		Short: "Close the game: upload local state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := cl.LoadState(args[0])
			if err != nil {
				return err
			}
			in := state.SaveInput()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			err = newClient(apiBase).Save(ctx, in)
			if err == nil {
				printSuccess("Data saved successfully.")
				return nil
			}
			var statusErr *cl.StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return err
			}
			if qerr := syncq.Push(syncq.PendingSave{Save: in, QueuedAt: time.Now().UTC()}); qerr != nil {
				return fmt.Errorf("save failed (%v) and queueing failed: %w", err, qerr)
			}
			printWarn(fmt.Sprintf("Server unreachable (%v). Save queued; run `tycoonctl sync` later.", err))
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued saves",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.PendingSave, 0, len(queue))
			success := 0
			for _, q := range queue {
				err := client.Save(ctx, q.Save)
				if err != nil {
					var statusErr *cl.StatusError
					if errors.As(err, &statusErr) && !statusErr.Retryable() {
						printError(fmt.Sprintf("Dropping save for %s: %v", q.Save.UserID, err))
						continue
					}
					q.Attempts++
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s: %v", q.Save.UserID, err))
					continue
				}
				success++
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", success, len(remaining)))
			return nil
		},
	}
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the business catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			defs, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			renderCatalog(defs)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and seed the catalog on the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAPIFromEnv()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			store, closeStore, err := app.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			svc := game.NewService(store, logger)
			if err := app.SeedCatalog(ctx, svc, cfg); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Store %q migrated.", cfg.Store))
			return nil
		},
	}
}
