package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/pipeline"
)

func askCMD(config func() AppConfig) *cobra.Command {
	var userID, threadID, mode string
	var asJSON bool

	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := BuildApp(ctx, config())
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Pipeline.Answer(ctx, pipeline.Request{
				UserID:   userID,
				ThreadID: threadID,
				Question: strings.Join(args, " "),
				Mode:     model.Mode(mode),
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printAnswer(resp)
			return nil
		},
	}
	ask.Flags().StringVar(&userID, "user", "local", "user id")
	ask.Flags().StringVar(&threadID, "thread", "default", "thread id")
	ask.Flags().StringVar(&mode, "mode", "", "INTERNAL or EXTERNAL (default from AGENT_DEFAULT_MODE)")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return ask
}

func printAnswer(resp *pipeline.Response) {
	fmt.Println(resp.Answer)
	if resp.Decomposed {
		fmt.Println("\nSub-questions:")
		for i, q := range resp.SubQueries {
			fmt.Printf("  %d. %s\n", i+1, q)
		}
	}
	if len(resp.Sources.Documents) > 0 {
		fmt.Println("\nDocuments:")
		for _, d := range resp.Sources.Documents {
			fmt.Printf("  - %s (document %s, page %d)\n", d.Title, d.DocumentID, d.PageNo)
		}
	}
	if len(resp.Sources.Web) > 0 {
		fmt.Println("\nWeb:")
		for _, w := range resp.Sources.Web {
			fmt.Printf("  - %s %s\n", w.Title, w.URL)
		}
	}
	fmt.Printf("\nrun %s, cost $%.4f\n", resp.RunID, resp.CostUSD)
}
