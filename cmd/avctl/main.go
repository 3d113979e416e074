package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/avelero/avelero/internal/dnsverify"
	"github.com/avelero/avelero/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	apiURL   string
	adminKey string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "avctl",
	Short: "Avelero control-plane CLI",
	Long: `avctl is the command-line interface for the Avelero control plane.

It manages custom passport domains: registering them, printing the DNS
records a brand must publish, and running ownership checks — either
directly against DNS or through the control-plane API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.avctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if apiURL == "" {
			apiURL = viper.GetString("api_url")
		}
		if apiURL == "" {
			apiURL = "https://api.avelero.com"
		}
		if adminKey == "" {
			adminKey = viper.GetString("admin_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.avctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "control-plane base URL (default https://api.avelero.com)")
	rootCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "admin key for the token exchange (or ADMIN_KEY)")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(instructionsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(versionCmd)
}

func newAPIClient() *client.Client {
	opts := []client.Option{}
	if adminKey != "" {
		opts = append(opts, client.WithAdminKey("avctl", adminKey))
	}
	return client.New(apiURL, opts...)
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a verification token locally",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(dnsverify.GenerateToken())
	},
}

// ── instructions ─────────────────────────────────────────────────────────────

var instrToken string

var instructionsCmd = &cobra.Command{
	Use:   "instructions <domain>",
	Short: "Print the DNS records required for a domain",
	Long: `Instructions derives the TXT challenge record and the CNAME routing
record for a domain. With --token the records carry that token; otherwise
a fresh one is generated and printed alongside.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := instrToken
		if token == "" {
			token = dnsverify.GenerateToken()
		}
		pair, err := dnsverify.BuildInstructions(args[0], token)
		if err != nil {
			return err
		}
		return printInstructions(pair)
	},
}

func init() {
	instructionsCmd.Flags().StringVar(&instrToken, "token", "", "verification token to embed (generated when empty)")
}

func printInstructions(pair dnsverify.InstructionPair) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tHOST\tVALUE\tTTL")
	for _, rec := range []dnsverify.DNSRecord{pair.TXT, pair.CNAME} {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rec.Type, rec.Host, rec.Value, rec.TTL)
	}
	return w.Flush()
}

// ── verify (direct DNS) ──────────────────────────────────────────────────────

var (
	verifyNS      []string
	verifyDoH     string
	verifyTimeout time.Duration
	verifyJSON    bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <domain> <token>",
	Short: "Run an ownership check directly against DNS",
	Long: `Verify queries DNS for the verification TXT record without going
through the control plane. It chases the domain's authoritative nameservers
first and falls back to DNS-over-HTTPS, exactly as the server does:

  avctl verify passport.nike.com avelero-verification-ab12...

Use --ns to skip nameserver discovery and query specific servers:

  avctl verify passport.nike.com avelero-verification-ab12... --ns 1.1.1.1 --ns 8.8.8.8`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doh := dnsverify.NewDoHClient(verifyDoH, nil)
		ns := dnsverify.NewNameserverResolver(doh, zap.NewNop())
		verifier := dnsverify.NewVerifier(ns, doh, zap.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()

		var opts []dnsverify.VerifyOption
		if len(verifyNS) > 0 {
			opts = append(opts, dnsverify.WithNameserverIPs(verifyNS))
		}
		res := verifier.Verify(ctx, args[0], args[1], opts...)

		if verifyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			printResult(res)
		}
		if !res.Success {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringSliceVar(&verifyNS, "ns", nil, "nameserver IPs to query directly (skips discovery)")
	verifyCmd.Flags().StringVar(&verifyDoH, "doh", "", "DNS-over-HTTPS endpoint (default Cloudflare)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 30*time.Second, "overall check timeout")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "emit the raw result as JSON")
}

func printResult(res dnsverify.Result) {
	if res.Success {
		fmt.Println("verified ✓")
	} else {
		fmt.Printf("failed: %s\n", res.Error)
	}
	for _, r := range res.FoundRecords {
		fmt.Printf("  found: %s\n", r)
	}
}

// ── domain (control-plane API) ───────────────────────────────────────────────

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage custom domains through the control plane",
}

var domainBrand string

var domainStartCmd = &cobra.Command{
	Use:   "start <domain>",
	Short: "Register a domain and print its setup records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		brandID, err := uuid.Parse(domainBrand)
		if err != nil {
			return fmt.Errorf("invalid --brand: %w", err)
		}

		res, err := newAPIClient().Start(context.Background(), brandID, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:     %s\n", res.Domain.ID)
		fmt.Printf("Domain: %s\n", res.Domain.Domain)
		fmt.Printf("Status: %s\n\n", res.Domain.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tHOST\tVALUE\tTTL")
		for _, rec := range []client.DNSRecord{res.Instructions.TXT, res.Instructions.CNAME} {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rec.Type, rec.Host, rec.Value, rec.TTL)
		}
		return w.Flush()
	},
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a brand's custom domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		brandID, err := uuid.Parse(domainBrand)
		if err != nil {
			return fmt.Errorf("invalid --brand: %w", err)
		}

		ds, err := newAPIClient().List(context.Background(), brandID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tCREATED")
		for _, d := range ds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.ID, d.Domain, d.Status, d.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var domainStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a domain record's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid domain ID: %w", err)
		}

		d, err := newAPIClient().Get(context.Background(), id)
		if err != nil {
			return err
		}

		fmt.Printf("Domain:  %s\n", d.Domain)
		fmt.Printf("Status:  %s\n", d.Status)
		if d.LastError != "" {
			fmt.Printf("Error:   %s\n", d.LastError)
		}
		if d.VerifiedAt != nil {
			fmt.Printf("Verified: %s\n", d.VerifiedAt.Format(time.RFC3339))
		}
		for _, r := range d.FoundRecords {
			fmt.Printf("  found: %s\n", r)
		}
		return nil
	},
}

var domainVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Run one ownership check through the control plane",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid domain ID: %w", err)
		}

		res, err := newAPIClient().Verify(context.Background(), id)
		if err != nil && !errors.Is(err, client.ErrVerificationFailed) {
			return err
		}

		if res.Success {
			fmt.Println("verified ✓")
			return nil
		}
		fmt.Printf("failed: %s\n", res.Error)
		for _, r := range res.FoundRecords {
			fmt.Printf("  found: %s\n", r)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	domainStartCmd.Flags().StringVar(&domainBrand, "brand", "", "brand UUID (required)")
	domainStartCmd.MarkFlagRequired("brand") //nolint:errcheck
	domainListCmd.Flags().StringVar(&domainBrand, "brand", "", "brand UUID (required)")
	domainListCmd.MarkFlagRequired("brand") //nolint:errcheck

	domainCmd.AddCommand(domainStartCmd)
	domainCmd.AddCommand(domainListCmd)
	domainCmd.AddCommand(domainStatusCmd)
	domainCmd.AddCommand(domainVerifyCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the avctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("avctl", version)
	},
}
