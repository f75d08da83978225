package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/compresr/realtime-gateway/internal/config"
	"github.com/compresr/realtime-gateway/internal/gateway"
	"github.com/compresr/realtime-gateway/internal/ledger"
)

const clientTimeout = 10 * time.Second

// apiClient talks to a running gateway.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{base: base, http: &http.Client{Timeout: clientTimeout}}
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func defaultAddr() string {
	return fmt.Sprintf("%s:%d", config.DefaultHost, config.DefaultPort)
}

// =============================================================================
// STATUS
// =============================================================================

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active sessions and today's budget of a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), newAPIClient(addr))
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", defaultAddr(), "Gateway address")
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, c *apiClient) error {
	var status gateway.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", &status); err != nil {
		return err
	}

	sum := status.DailySummary
	fmt.Fprintf(out, "Uptime:    %s\n", status.Uptime)
	fmt.Fprintf(out, "Today:     %s spent of %s, %d of %d sessions\n",
		formatUSD(sum.Totals.Cost), formatUSD(sum.Limits.MaxCostPerDay),
		sum.Totals.Sessions, sum.Limits.MaxDailySessions)
	fmt.Fprintf(out, "Remaining: %s, %d sessions\n", formatUSD(sum.Remaining.Cost), sum.Remaining.Sessions)
	fmt.Fprintf(out, "Pending:   %d\n\n", status.PendingCount)

	if status.ActiveCount == 0 {
		fmt.Fprintln(out, "No active sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tUSER\tSTATE\tELAPSED\tCOST\tREMAINING")
	for _, s := range status.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SessionID, s.UserID, s.State,
			s.Elapsed.Truncate(time.Second), formatUSD(s.Cost), formatUSD(s.RemainingCost))
	}
	return tw.Flush()
}

// =============================================================================
// END
// =============================================================================

func newEndCmd() *cobra.Command {
	var (
		addr string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "end [session-id]",
		Short: "End a session (or all sessions) on a running gateway",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("give a session id or --all")
			}
			c := newAPIClient(addr)
			if all {
				return runEndAll(cmd.Context(), cmd.OutOrStdout(), c)
			}
			return runEnd(cmd.Context(), cmd.OutOrStdout(), c, args[0])
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", defaultAddr(), "Gateway address")
	cmd.Flags().BoolVar(&all, "all", false, "End every active session")
	return cmd
}

func runEnd(ctx context.Context, out io.Writer, c *apiClient, id string) error {
	var resp gateway.EndSessionResponse
	if err := c.do(ctx, http.MethodDelete, "/api/sessions/"+id, &resp); err != nil {
		return err
	}
	if resp.Cancelled || resp.Summary == nil {
		fmt.Fprintf(out, "%s: request withdrawn\n", id)
		return nil
	}
	rec := resp.Summary.Record
	fmt.Fprintf(out, "%s: ended after %.0fs, cost %s\n", id, rec.DurationSeconds, formatUSD(rec.Cost))
	return nil
}

func runEndAll(ctx context.Context, out io.Writer, c *apiClient) error {
	var status gateway.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", &status); err != nil {
		return err
	}
	var errs []error
	for _, s := range status.Sessions {
		if err := runEnd(ctx, out, c, s.SessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(status.Sessions) == 0 {
		fmt.Fprintln(out, "No active sessions.")
	}
	return errors.Join(errs...)
}

// =============================================================================
// COSTS
// =============================================================================

func newCostsCmd() *cobra.Command {
	var (
		configPath string
		storageURL string
		date       string
	)
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Print a day's session ledger from storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if storageURL == "" {
				cfg, err := loadConfig(configPath, 0)
				if err != nil {
					return err
				}
				storageURL = cfg.Storage.URL
			}
			if date == "" {
				date = ledger.DateKey(time.Now())
			}
			return runCosts(cmd.Context(), cmd.OutOrStdout(), storageURL, date)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (for storage.url)")
	cmd.Flags().StringVar(&storageURL, "storage", "", "Storage URL (overrides the config)")
	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD (default: today)")
	return cmd
}

func runCosts(ctx context.Context, out io.Writer, storageURL, date string) error {
	if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	store, err := ledger.OpenStore(ctx, storageURL)
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := store.Load(ctx, date)
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintf(out, "No sessions recorded on %s.\n", date)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d sessions, %s, %.0fs audio\n\n",
		doc.Date, doc.TotalSessions, formatUSD(doc.TotalCost), doc.TotalAudioSeconds)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTART\tDURATION\tAUDIO IN\tAUDIO OUT\tCOST")
	for _, r := range doc.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%.0fs\t%.1fs\t%.1fs\t%s\n",
			r.SessionID, r.StartTime.Local().Format("15:04:05"), r.DurationSeconds,
			r.AudioInputSeconds, r.AudioOutputSeconds, formatUSD(r.Cost))
	}
	return tw.Flush()
}
