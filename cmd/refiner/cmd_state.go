package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/refiner/internal/domain"
)

func (c *cli) stateCmd() *cobra.Command {
	var (
		imageKey    string
		withHistory bool
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show an image's current background state",
		Long: `Shows the background state of an image. Unknown images report the default
transparent background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			state := app.refiner.GetBackgroundState(ctx, imageKey)
			if !withHistory {
				return writeJSON(cmd.OutOrStdout(), state)
			}
			history, err := app.refiner.History(ctx, imageKey)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Background domain.BackgroundState `json:"background"`
				History    []domain.HistoryEntry  `json:"history"`
			}{state, history})
		},
	}
	cmd.Flags().StringVar(&imageKey, "image", "", "image key, ID or URL (required)")
	cmd.Flags().BoolVar(&withHistory, "history", false, "include the refinement history")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (c *cli) aliasCmd() *cobra.Command {
	var imageKey string
	cmd := &cobra.Command{
		Use:   "alias ALIAS...",
		Short: "Bind further identifiers (hosted URLs, cache keys) to an image's chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.refiner.Alias(cmd.Context(), imageKey, args...); err != nil {
				return err
			}
			chain, err := app.backgrounds.Chain(cmd.Context(), imageKey)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), chain)
		},
	}
	cmd.Flags().StringVar(&imageKey, "image", "", "image key, ID or URL (required)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (c *cli) chainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "Inspect and prune persisted refinement chains",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the image keys of persisted chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.requireStore(); err != nil {
				return err
			}

			keys, err := app.store.ListChains(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete IMAGE_KEY...",
		Short: "Delete persisted chains and their aliases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.requireStore(); err != nil {
				return err
			}

			ctx := cmd.Context()
			for _, key := range args {
				id := app.backgrounds.Registry().Resolve(ctx, key)
				if err := app.store.DeleteChain(ctx, id); err != nil {
					return fmt.Errorf("deleting %s: %w", key, err)
				}
				app.logger.Info("chain deleted", "image_key", id)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, deleteCmd)
	return cmd
}
