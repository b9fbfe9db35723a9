package main

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/refiner/internal/core"
)

func (c *cli) parseCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "parse [instruction]",
		Short: "Parse an instruction into operations without touching any image",
		Example: `  refiner parse "add sunglasses and a cigar"
  refiner parse --strict "make the background snowfall"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			plan, err := app.refiner.ParseInstruction(joinArgs(args))
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), plan); err != nil {
				return err
			}
			if strict {
				return plan.Diagnostics.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any phrase could not be parsed")
	return cmd
}

func (c *cli) planCmd() *cobra.Command {
	var (
		imageKey   string
		promptPath string
		basePrompt string
		requestID  string
	)
	cmd := &cobra.Command{
		Use:   "plan [instruction]",
		Short: "Plan a refinement of one image and record it on the image's chain",
		Long: `Parses the instruction, updates the image's background state and returns the patched
structured prompt (with --prompt) or a composed text prompt (with --base or neither).

Use --request-id to make retries safe: the same ID returns the first result without
recording the instruction twice.`,
		Example: `  refiner plan --image img-42 --prompt scene.json "change the background to the beach"
  refiner plan --image img-42 --base "A cat on a sofa." "add a red hat"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			prior, err := readPrompt(promptPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := app.refiner.PlanRefinement(cmd.Context(), core.Request{
				Instruction: joinArgs(args),
				PriorPrompt: prior,
				BasePrompt:  basePrompt,
				ImageKey:    imageKey,
				RequestID:   requestID,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&imageKey, "image", "", "image key, ID or URL (required)")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "structured scene prompt JSON file, - for stdin")
	cmd.Flags().StringVar(&basePrompt, "base", "", "plain-text prompt used when no structured prompt is given")
	cmd.Flags().StringVar(&requestID, "request-id", "", "idempotency key for retries")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (c *cli) initCmd() *cobra.Command {
	var (
		imageKey   string
		promptPath string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Seed an image's chain from its structured prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			prior, err := readPrompt(promptPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			state, err := app.refiner.Initialize(cmd.Context(), imageKey, prior)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().StringVar(&imageKey, "image", "", "image key, ID or URL (required)")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "structured scene prompt JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
