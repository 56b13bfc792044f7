// bridgectl is a small operator CLI for a running wa-bridge instance.
// In manual sync mode it is the external trigger that drives persists.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "bridgectl",
		Short: "Control a running wa-bridge instance",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8290", "base URL of the bridge")

	root.AddCommand(persistCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func persistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "persist",
		Short: "Trigger one session persist cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, "POST", "/v1/session/persist")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync strategy status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, "GET", "/v1/session/status")
		},
	}
}

func call(cmd *cobra.Command, method, route string) error {
	client := resty.New().SetBaseURL(addr)
	req := client.R().SetContext(cmd.Context())

	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case "POST":
		resp, err = req.Post(route)
	default:
		resp, err = req.Get(route)
	}
	if err != nil {
		return fmt.Errorf("request %s: %w", route, err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("bridge returned %s: %s", resp.Status(), resp.Body())
	}

	var pretty json.RawMessage = resp.Body()
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(resp.Body()))
		return nil
	}
	fmt.Println(string(out))
	return nil
}
