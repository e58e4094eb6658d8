package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallbiznis/devhub/internal/gate"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "devhubctl",
		Short:         "Operator tooling for the DevHub entitlement API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("api", envOr("DEVHUB_API_URL", "http://localhost:8080"), "DevHub API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(bulkUpdateCmd())
	rootCmd.AddCommand(checkAccessCmd())
	rootCmd.AddCommand(userDataCmd())
	rootCmd.AddCommand(gateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiClient(cmd *cobra.Command) *gate.Client {
	base, _ := cmd.Flags().GetString("api")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return gate.NewClient(base, &http.Client{Timeout: timeout})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
