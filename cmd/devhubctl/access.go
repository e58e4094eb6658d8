package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/adapter/supabase"
	"github.com/smallbiznis/devhub/internal/gate"
)

func checkAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-access",
		Short: "Resolve access for a user token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			access, err := apiClient(cmd).CheckAccess(cmd.Context(), token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), access)
		},
	}
	cmd.Flags().String("token", os.Getenv("DEVHUB_TOKEN"), "User access token")
	return cmd
}

func userDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user-data",
		Short: "Show the entitlement record for a user token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			data, err := apiClient(cmd).UserData(cmd.Context(), token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().String("token", os.Getenv("DEVHUB_TOKEN"), "User access token")
	return cmd
}

func gateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run the members-area admission check for a session",
		Long: `Run the same admission check the members area performs.

Exits non-zero unless the session is admitted. --dev-fallback reads the
purchase flag straight from the data API when the DevHub API is down; it is
ignored unless --env is development.`,
		RunE: runGate,
	}

	cmd.Flags().String("token", os.Getenv("DEVHUB_TOKEN"), "User access token")
	cmd.Flags().String("user-id", "", "User id, needed by the fallback")
	cmd.Flags().String("env", envOr("APP_ENV", "production"), "Environment name")
	cmd.Flags().Bool("dev-fallback", false, "Allow the direct store fallback")
	cmd.Flags().String("supabase-url", os.Getenv("SUPABASE_URL"), "Supabase project URL")
	cmd.Flags().String("supabase-anon-key", os.Getenv("SUPABASE_ANON_KEY"), "Supabase anon key")
	cmd.Flags().String("purchase-url", os.Getenv("PURCHASE_URL"), "Checkout link shown on denial")

	return cmd
}

func runGate(cmd *cobra.Command, args []string) error {
	token, _ := cmd.Flags().GetString("token")
	userID, _ := cmd.Flags().GetString("user-id")
	env, _ := cmd.Flags().GetString("env")
	useFallback, _ := cmd.Flags().GetBool("dev-fallback")
	supabaseURL, _ := cmd.Flags().GetString("supabase-url")
	anonKey, _ := cmd.Flags().GetString("supabase-anon-key")
	purchaseURL, _ := cmd.Flags().GetString("purchase-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []gate.Option{gate.WithLogger(logger), gate.WithPurchaseURL(purchaseURL)}
	if useFallback {
		if supabaseURL == "" || anonKey == "" {
			return fmt.Errorf("--dev-fallback needs --supabase-url and --supabase-anon-key")
		}
		store := supabase.NewUserStore(supabase.NewClient(supabaseURL, anonKey, &http.Client{Timeout: timeout}))
		opts = append(opts, gate.WithDevFallback(env, gate.StoreFallback{Reader: store}))
	}

	g := gate.New(apiClient(cmd), opts...)
	w := cmd.OutOrStdout()
	decision := g.Enter(cmd.Context(), &gate.Session{UserID: userID, AccessToken: token}, func(s gate.State) {
		fmt.Fprintf(w, "state: %s\n", s)
	})

	if decision.Degraded {
		fmt.Fprintln(w, "warning: answer came from the direct store fallback")
	}
	switch decision.State {
	case gate.StateAdmitted:
		return nil
	case gate.StateRedirectAuth:
		return fmt.Errorf("no session; sign in first")
	default:
		if decision.PurchaseURL != "" {
			fmt.Fprintf(w, "purchase: %s\n", decision.PurchaseURL)
		}
		if decision.Err != nil {
			return fmt.Errorf("access denied: %w", decision.Err)
		}
		return fmt.Errorf("access denied")
	}
}
