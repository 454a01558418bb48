package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/imq-dev/imq/internal/queue"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	Addr string // Base URL of a running imq instance
	JSON bool   // Output raw JSON instead of a table
}

// queuesResponse mirrors GET /api/v1/queues.
type queuesResponse struct {
	Queues []*queue.Queue `json:"queues"`
	Count  int            `json:"count"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd(app *App) *cobra.Command {
	opts := StatusOptions{
		Addr: "http://127.0.0.1:8080",
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the queues of a running imq instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", opts.Addr, "Base URL of the imq API")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output raw JSON instead of a table")

	return cmd
}

func showStatus(cmd *cobra.Command, opts StatusOptions) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(opts.Addr + "/api/v1/queues")
	if err != nil {
		return fmt.Errorf("failed to reach imq at %s: %w", opts.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("imq returned %s", resp.Status)
	}

	var payload queuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	if payload.Count == 0 {
		fmt.Fprintln(out, "No queues.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tREPO\tPOS\tPR\tSTATUS\tENQUEUED")
	for _, q := range payload.Queues {
		if len(q.Entries) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t(empty)\t-\n", q.BaseBranch, q.Repo)
			continue
		}
		for _, e := range q.Entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t#%d\t%s\t%s\n",
				q.BaseBranch, q.Repo, e.Position, e.PullRequest.Number,
				e.Status, e.EnqueuedAt.Local().Format("15:04:05"))
		}
	}
	return w.Flush()
}
