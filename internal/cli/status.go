package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/callgate/server"
)

type statusOptions struct {
	addr    string
	apiKey  string
	output  string
	timeout time.Duration
}

func newStatusCommand() *cobra.Command {
	opts := statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the gateways of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiKey == "" {
				opts.apiKey = os.Getenv("CALLGATE_API_KEY")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			resp, err := fetchStatus(ctx, http.DefaultClient, opts)
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), resp, opts.output)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	f.StringVar(&opts.apiKey, "api-key", "", "API key (default $CALLGATE_API_KEY)")
	f.StringVarP(&opts.output, "output", "o", "table", "output format: table, json")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, hc *http.Client, opts statusOptions) (*server.GatewaysResponse, error) {
	url := strings.TrimRight(opts.addr, "/") + "/v1/gateways"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.apiKey != "" {
		req.Header.Set("X-API-Key", opts.apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e server.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error.Message)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out server.GatewaysResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func renderStatus(w io.Writer, resp *server.GatewaysResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Gateway", "State", "Failures", "Tokens", "Permits", "Rejected", "Opened"})
	for _, s := range resp.Gateways {
		opened := "-"
		if !s.OpenedAt.IsZero() {
			opened = s.OpenedAt.Local().Format(time.TimeOnly)
		}
		t.AppendRow(table.Row{
			s.Name,
			s.State,
			s.Failures,
			fmt.Sprintf("%.1f", s.Tokens),
			fmt.Sprintf("%d/%d", s.ActivePermits, s.MaxConcurrent),
			s.Rejected,
			opened,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d gateway(s)", len(resp.Gateways))})
	t.Render()
	return nil
}
