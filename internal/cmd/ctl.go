package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bietiekay/riak-fuse/internal/locking"
	"github.com/bietiekay/riak-fuse/internal/metrics"
	"github.com/spf13/cobra"
)

// statusClient talks to the status server of a running mount.
type statusClient struct {
	base   string
	token  string
	client *http.Client
}

func (c *statusClient) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, strings.TrimRight(c.base, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return resp, nil
}

func (c *statusClient) getJSON(path string, v any) error {
	resp, err := c.do(http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// NewCtlCmd creates and returns the ctl subcommand, a client for the status
// server of a running mount.
func NewCtlCmd() *cobra.Command {
	c := &statusClient{client: &http.Client{}}
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Query the status server of a running mount",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.client.Timeout = timeout
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&c.base, "base", "http://localhost:9100", "Base URL of the status server")
	pf.StringVar(&c.token, "token", "", "Bearer token (api_token)")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Print liveness and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range []string{"/health", "/ready"} {
				resp, err := c.client.Get(strings.TrimRight(c.base, "/") + p)
				if err != nil {
					return err
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p, resp.Status, strings.TrimSpace(string(body)))
			}
			return nil
		},
	})

	var reset bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-operation remote call statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data map[string]metrics.OpSnapshot
			if err := c.getJSON("/v1/stats", &data); err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), data)
			if !reset {
				return nil
			}
			resp, err := c.do(http.MethodPost, "/v1/stats/reset")
			if err != nil {
				return err
			}
			return resp.Body.Close()
		},
	}
	statsCmd.Flags().BoolVar(&reset, "reset", false, "Reset the counters after printing")
	cmd.AddCommand(statsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "locks",
		Short: "Print the paths currently serialized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []locking.Info
			if err := c.getJSON("/v1/locks", &items); err != nil {
				return err
			}
			now := time.Now()
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\t%d waiting\n", it.Path, it.Holder, now.Sub(it.Since).Round(time.Second), it.Waiters)
			}
			return nil
		},
	})

	return cmd
}

func printStats(w io.Writer, data map[string]metrics.OpSnapshot) {
	ops := make([]string, 0, len(data))
	for op := range data {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		m := data[op]
		fmt.Fprintf(w, "%-14s req=%d ok=%d notfound=%d fail=%d avg=%.2fms last=%.2fms\n",
			op, m.Requests, m.Success, m.NotFound, m.Fail, m.AvgMs, m.LastMs)
	}
}
