package main

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/refiner/internal/core"
	"github.com/dotcommander/refiner/internal/provider"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		imageURL   string
		promptPath string
		basePrompt string
		requestID  string
	)
	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Plan a refinement and execute it against the image provider",
		Long: `Plans the refinement exactly like "plan", then runs the chosen strategy against the
provider: background removal, mask-based fill for small localized edits, or one structured
regeneration for everything else. Waits for the job and prints its final status.`,
		Example: `  REFINER_PROVIDER_API_KEY=... refiner run --image https://cdn.example.com/cat.png \
    --prompt scene.json "add sunglasses and a cigar"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			client, err := app.providerClient()
			if err != nil {
				return err
			}
			prior, err := readPrompt(promptPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			res, err := app.refiner.PlanRefinement(ctx, core.Request{
				Instruction: joinArgs(args),
				PriorPrompt: prior,
				BasePrompt:  basePrompt,
				ImageKey:    imageURL,
				RequestID:   requestID,
			})
			if err != nil {
				return err
			}

			exec := provider.NewExecutor(client, app.logger.With("component", "executor"))
			status, err := exec.Execute(ctx, res, imageURL)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				Strategy string           `json:"strategy"`
				Status   *provider.Status `json:"status"`
			}{string(res.Plan.Strategy), status})
		},
	}
	cmd.Flags().StringVar(&imageURL, "image", "", "URL of the image to refine (required)")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "structured scene prompt JSON file, - for stdin")
	cmd.Flags().StringVar(&basePrompt, "base", "", "plain-text prompt used when no structured prompt is given")
	cmd.Flags().StringVar(&requestID, "request-id", "", "idempotency key for retries")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
