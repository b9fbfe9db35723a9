package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/dotcommander/refiner/internal/core"
)

type batchLine struct {
	Index    int          `json:"index"`
	ImageKey string       `json:"image_key"`
	Result   *core.Result `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func (c *cli) batchCmd() *cobra.Command {
	var (
		file        string
		concurrency int
		failFast    bool
		metrics     bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Plan many refinements from a file",
		Long: `Reads one request per line as IMAGE_KEY<TAB>INSTRUCTION. Blank lines and lines starting
with # are skipped. Requests for the same image are applied in file order; different images
are planned concurrently. One JSON object per request is written in input order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := readBatch(file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			items, batchErr := app.refiner.Batch(cmd.Context(), reqs,
				core.WithWorkers(concurrency),
				core.WithItemTimeout(app.cfg.Limits.Timeout),
				core.WithFailFast(failFast),
			)

			out := cmd.OutOrStdout()
			failed := 0
			for _, it := range items {
				line := batchLine{Index: it.Index, ImageKey: it.Request.ImageKey, Result: it.Result}
				if it.Err != nil {
					line.Error = it.Err.Error()
					failed++
				}
				if err := writeJSON(out, line); err != nil {
					return err
				}
			}

			if metrics {
				if err := writeMetrics(cmd.ErrOrStderr(), app); err != nil {
					return err
				}
			}
			if batchErr != nil {
				return batchErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request file, - for stdin")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "images planned at once")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed request")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print Prometheus metrics to stderr when done")
	return cmd
}

func readBatch(path string, stdin io.Reader) ([]core.Request, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reqs []core.Request
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, text, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: expected IMAGE_KEY<TAB>INSTRUCTION", lineNo)
		}
		reqs = append(reqs, core.Request{
			ImageKey:    strings.TrimSpace(key),
			Instruction: strings.TrimSpace(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return reqs, nil
}

func writeMetrics(w io.Writer, app *application) error {
	families, err := app.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}
