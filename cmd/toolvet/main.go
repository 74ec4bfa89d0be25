package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toolvet/toolvet/internal/knowledge"
	"github.com/toolvet/toolvet/pkg/client"
	"github.com/toolvet/toolvet/pkg/mcptool"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serviceURL string
	cfgFile    string
	authToken  string
	insecure   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "toolvet",
	Short: "Tool review workflow CLI",
	Long: `toolvet is the command-line interface for the tool review service.

It submits MCP tool definitions for security review, tracks review
sessions through the workflow, records human decisions, and inspects
the audit ledger.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serviceURL == "" {
			serviceURL = viper.GetString("service_url")
		}
		if serviceURL == "" {
			serviceURL = os.Getenv(client.EnvURL)
		}
		if serviceURL == "" {
			serviceURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.toolvet/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "Review service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (overrides TOOLVET_TOKEN and the saved login token)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(versionCmd)
}

// configDir returns ~/.toolvet, where the CLI keeps its config and token.
func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".toolvet")
}

func tokenPath() string { return filepath.Join(configDir(), "token") }

// newClient builds an SDK client with the best available credentials:
// the --token flag, then TOOLVET_TOKEN, then the token file written by
// 'toolvet login'. Read-only commands work fine without any of them
// against an open service.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	switch {
	case authToken != "":
		opts = append(opts, client.WithBearerToken(authToken))
	case os.Getenv(client.EnvToken) != "":
		opts = append(opts, client.WithBearerToken(os.Getenv(client.EnvToken)))
	default:
		if tok, err := client.LoadToken(tokenPath()); err == nil {
			opts = append(opts, client.WithBearerToken(tok))
		}
	}
	return client.New(serviceURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── login ────────────────────────────────────────────────────────────────────

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate as an operator and save the bearer token",
	Long: `login exchanges operator credentials for a bearer token and writes it
to ~/.toolvet/token (chmod 600). Later commands pick it up automatically.

Tokens expire; re-run login when commands start failing with 401.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Operator email (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Operator password (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	stdin := bufio.NewReader(os.Stdin)

	email := loginEmail
	if email == "" {
		fmt.Print("Email: ")
		line, _ := stdin.ReadString('\n')
		email = strings.TrimSpace(line)
	}
	password := loginPassword
	if password == "" {
		fmt.Print("Password: ")
		line, _ := stdin.ReadString('\n')
		password = strings.TrimSpace(line)
	}
	if email == "" || password == "" {
		return fmt.Errorf("email and password are required")
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	token, err := c.Login(context.Background(), email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := os.MkdirAll(configDir(), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(tokenPath(), []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fmt.Printf("✓ Logged in as %s\n", email)
	fmt.Printf("  Token saved to %s\n", tokenPath())
	return nil
}

// ── submit ───────────────────────────────────────────────────────────────────

var (
	submitWatch  bool
	submitPoll   time.Duration
	submitYes    bool
	submitFormat string
)

var submitCmd = &cobra.Command{
	Use:   "submit <tool.json | domain>",
	Short: "Submit MCP tools for security review",
	Long: `submit sends tool definitions into the review pipeline.

The argument is either a local tool definition file:

  toolvet submit ./fetch_invoice.json

or a provider domain, in which case every tool listed in the domain's
/.well-known/mcp-manifest.json is submitted:

  toolvet submit acme.example

Use --watch to block until each review reaches a terminal phase.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "Poll until the review reaches a terminal phase")
	submitCmd.Flags().DurationVar(&submitPoll, "poll", 2*time.Second, "Poll interval for --watch")
	submitCmd.Flags().BoolVarP(&submitYes, "yes", "y", false, "Skip the bulk-submission confirmation prompt")
	submitCmd.Flags().StringVar(&submitFormat, "format", "text", "Output format: text or json")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	arg := args[0]
	ctx := context.Background()

	tools, err := loadSubmissions(arg)
	if err != nil {
		return err
	}

	// Manifest submissions are bulk; confirm before firing.
	if len(tools) > 1 && !submitYes {
		fmt.Printf("Will submit %d tool(s) for review:\n\n", len(tools))
		for i, t := range tools {
			fmt.Printf("  [%d] %s (%s)\n", i+1, t.Name, t.Provider.Name)
		}
		fmt.Printf("\nService: %s\n\n", serviceURL)

		fmt.Print("Proceed? [Y/n]: ")
		stdin := bufio.NewReader(os.Stdin)
		answer, _ := stdin.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer != "" && strings.ToLower(answer) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	for i := range tools {
		tool := &tools[i]
		result, err := c.SubmitTool(ctx, tool)
		if err != nil {
			return fmt.Errorf("submit %q: %w", tool.Name, err)
		}

		if submitFormat == "json" && !submitWatch {
			if err := printJSON(result); err != nil {
				return err
			}
			continue
		}

		fmt.Printf("✓ Submitted %s\n", tool.Name)
		fmt.Printf("  Review ID: %s\n", result.ReviewID)
		fmt.Printf("  Tool URI:  %s\n", result.ToolURI)
		fmt.Printf("  Phase:     %s\n\n", result.Phase)

		if submitWatch {
			fmt.Println("Waiting for outcome...")
			review, err := c.WaitForOutcome(ctx, result.ReviewID, submitPoll)
			if err != nil {
				return fmt.Errorf("wait for %s: %w", result.ReviewID, err)
			}
			if submitFormat == "json" {
				if err := printJSON(review); err != nil {
					return err
				}
				continue
			}
			printOutcome(review)
		} else {
			fmt.Printf("Next: toolvet get %s\n", result.ReviewID)
		}
	}
	return nil
}

// loadSubmissions reads tool definitions from a local JSON file or, when
// the argument is not a file, from the domain's mcp-manifest.json.
func loadSubmissions(arg string) ([]mcptool.Tool, error) {
	if _, err := os.Stat(arg); err == nil {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		var tool mcptool.Tool
		if err := json.Unmarshal(data, &tool); err != nil {
			return nil, fmt.Errorf("decode %s: %w", arg, err)
		}
		if err := tool.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		return []mcptool.Tool{tool}, nil
	}

	manifest, err := mcptool.FetchManifest(arg)
	if err != nil {
		return nil, err
	}
	tools, bad := manifest.Submissions()
	for name, toolErr := range bad {
		fmt.Fprintf(os.Stderr, "skipping %s: %v\n", name, toolErr)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("manifest on %s lists no valid tools", arg)
	}
	return tools, nil
}

// printOutcome summarises a terminal review for the operator.
func printOutcome(r *client.Review) {
	switch r.Phase {
	case client.PhaseSigned:
		fmt.Println("✓ Approved and signed")
		if r.Signature != nil {
			fmt.Printf("  Algorithm:   %s\n", r.Signature.Algorithm)
			fmt.Printf("  Key ID:      %s\n", r.Signature.KeyID)
			fmt.Printf("  Schema Hash: %s\n", r.Signature.SchemaHash)
		}
	case client.PhaseRejected:
		fmt.Printf("✗ Rejected: %s\n", r.RejectionReason)
	case client.PhaseSigningFailed:
		fmt.Print("✗ Approved but signing failed")
		if r.Failure != nil {
			fmt.Printf(": %s", r.Failure.Message)
		}
		fmt.Println()
	default:
		fmt.Printf("Phase: %s\n", r.Phase)
	}
}

// ── get ──────────────────────────────────────────────────────────────────────

var getFormat string

var getCmd = &cobra.Command{
	Use:   "get <review-id>",
	Short: "Show a review session's current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringVar(&getFormat, "format", "text", "Output format: text or json")
}

func runGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	review, err := c.GetReview(context.Background(), args[0])
	if err != nil {
		return err
	}
	if getFormat == "json" {
		return printJSON(review)
	}
	printReview(review)
	return nil
}

func printReview(r *client.Review) {
	fmt.Printf("Review:    %s\n", r.ReviewID)
	fmt.Printf("Tool URI:  %s\n", r.ToolURI)
	fmt.Printf("Phase:     %s\n", r.Phase)
	fmt.Printf("Submitted: %s\n", r.SubmittedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
	}

	if r.Analysis != nil {
		fmt.Printf("\nAnalysis (risk %.2f, by %s):\n", r.Analysis.RiskScore, r.Analysis.AnalyzerName)
		if len(r.Analysis.Findings) == 0 {
			fmt.Println("  no findings")
		}
		for _, f := range r.Analysis.Findings {
			fmt.Printf("  [%s] %s (%s, confidence %.2f)\n", f.Severity, f.Title, f.Category, f.Confidence)
			if f.Evidence != "" {
				fmt.Printf("        evidence: %s\n", f.Evidence)
			}
		}
	}
	if r.AIRecommendation != "" {
		fmt.Printf("\nRecommendation: %s\n", r.AIRecommendation)
	}
	if r.HumanDecision != nil {
		fmt.Printf("\nDecision:  %s by %s at %s\n",
			r.HumanDecision.Decision, r.HumanDecision.Reviewer,
			r.HumanDecision.DecidedAt.Format(time.RFC3339))
		fmt.Printf("  %s\n", r.HumanDecision.Reasoning)
	}
	if r.Signature != nil {
		fmt.Printf("\nSignature: %s (key %s)\n", r.Signature.Algorithm, r.Signature.KeyID)
		fmt.Printf("  Schema Hash: %s\n", r.Signature.SchemaHash)
		fmt.Printf("  Signed At:   %s\n", r.Signature.SignedAt.Format(time.RFC3339))
	}
	if r.RejectionReason != "" {
		fmt.Printf("\nRejection: %s\n", r.RejectionReason)
	}
	if r.Failure != nil {
		fmt.Printf("\nFailure (%s): %s\n", r.Failure.Kind, r.Failure.Message)
	}
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listPhase   string
	listToolURI string
	listLimit   int
	listOffset  int
	listFormat  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List review sessions",
	Long: `List shows review sessions, newest first.

  toolvet list --phase awaiting_human_review
  toolvet list --tool-uri tool://acme.example/fetch_invoice`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listPhase, "phase", "", "Filter by phase (e.g. awaiting_human_review, signed)")
	listCmd.Flags().StringVar(&listToolURI, "tool-uri", "", "Filter by tool URI")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum sessions to return")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Pagination offset")
	listCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text or json")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	reviews, err := c.ListReviews(context.Background(), listPhase, listToolURI, listLimit, listOffset)
	if err != nil {
		return err
	}

	if listFormat == "json" {
		return printJSON(reviews)
	}
	if len(reviews) == 0 {
		fmt.Println("No reviews found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REVIEW ID\tTOOL URI\tPHASE\tRISK\tSUBMITTED")
	for _, r := range reviews {
		risk := "-"
		if r.Analysis != nil {
			risk = fmt.Sprintf("%.2f", r.Analysis.RiskScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ReviewID, r.ToolURI, r.Phase, risk, r.SubmittedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// ── decide ───────────────────────────────────────────────────────────────────

var (
	decideReason   string
	decideReviewer string
)

var decideCmd = &cobra.Command{
	Use:   "decide <review-id> <approve|reject|request_reanalysis|escalate>",
	Short: "Record a human decision on a review awaiting judgment",
	Long: `Decide records a human verdict on a session in awaiting_human_review.

Reasoning is mandatory; it becomes part of the session's permanent audit
trail:

  toolvet decide 550e8400-... approve --reason "schema scope is read-only"
  toolvet decide 550e8400-... reject  --reason "description asks for credential exfiltration"`,
	Args: cobra.ExactArgs(2),
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideReason, "reason", "", "Reasoning recorded in the audit trail (required)")
	decideCmd.Flags().StringVar(&decideReviewer, "reviewer", "", "Reviewer identity (defaults to the token's operator)")
	_ = decideCmd.MarkFlagRequired("reason")
}

func runDecide(cmd *cobra.Command, args []string) error {
	id, verdict := args[0], args[1]
	switch verdict {
	case client.DecisionApprove, client.DecisionReject, client.DecisionRequestReanalysis, client.DecisionEscalate:
	default:
		return fmt.Errorf("unknown decision %q (use approve, reject, request_reanalysis, or escalate)", verdict)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	review, err := c.SubmitDecision(context.Background(), id, client.DecisionRequest{
		Decision:  verdict,
		Reasoning: decideReason,
		Reviewer:  decideReviewer,
	})
	if err != nil {
		if errors.Is(err, client.ErrDecisionConflict) {
			return fmt.Errorf("%w; check the current phase with 'toolvet get %s'", err, id)
		}
		return err
	}

	fmt.Printf("✓ Decision recorded: %s\n", verdict)
	fmt.Printf("  Review %s is now %s\n", review.ReviewID, review.Phase)
	return nil
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit <review-id>",
	Short: "Show a review session's chronological audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		entries, err := c.GetAuditTrail(context.Background(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIMESTAMP\tACTION\tACTOR\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Seq, e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.Detail)
		}
		return w.Flush()
	},
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show workflow throughput and outcome counters",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "text", "Output format: text or json")
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	s, err := c.Stats(context.Background())
	if err != nil {
		return err
	}
	if statsFormat == "json" {
		return printJSON(s)
	}

	fmt.Printf("Reviews:              %d\n", s.TotalReviews)
	fmt.Printf("  approved:           %d\n", s.ApprovedTools)
	fmt.Printf("  rejected:           %d\n", s.RejectedTools)
	fmt.Printf("  signed:             %d\n", s.SignedTools)
	fmt.Printf("  signing failures:   %d\n", s.SigningFailures)
	fmt.Printf("  analysis failures:  %d\n", s.AnalysisFailures)
	fmt.Printf("  escalations:        %d\n", s.Escalations)
	fmt.Println()
	fmt.Printf("In flight:\n")
	fmt.Printf("  pending analysis:   %d\n", s.PendingAnalysis)
	fmt.Printf("  awaiting human:     %d\n", s.AwaitingHumanReview)
	fmt.Printf("  pending signing:    %d\n", s.PendingSigning)
	fmt.Println()
	fmt.Printf("Auto-approval rate:   %.1f%%\n", s.AutoApprovalRate*100)
	fmt.Printf("Avg analysis time:    %.0f ms\n", s.AvgAnalysisTimeMs)
	fmt.Printf("Avg human review:     %.0f ms\n", s.AvgHumanReviewTimeMs)

	if len(s.FindingsByCategory) > 0 {
		fmt.Println("\nFindings by category:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for category, n := range s.FindingsByCategory {
			fmt.Fprintf(w, "  %s\t%d\n", category, n)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// ── key ──────────────────────────────────────────────────────────────────────

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Fetch the service's signature verification key",
	Long: `Key fetches /.well-known/toolvet-key.json, which registries use to
verify tool signatures offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		k, err := c.VerificationKey(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Algorithm: %s\n", k.Algorithm)
		fmt.Printf("Issuer:    %s\n\n", k.Issuer)
		fmt.Print(k.PublicKeyPEM)
		return nil
	},
}

// ── ledger ───────────────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the service's hash-chained audit ledger",
}

var ledgerInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the ledger size and root hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		info, err := c.LedgerInfo(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d\n", info.Entries)
		fmt.Printf("Root:    %s\n", info.Root)
		return nil
	},
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Ask the service to walk the full chain and check integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		status, err := c.VerifyLedger(ctx)
		if err != nil {
			return err
		}
		if !status.Valid {
			return fmt.Errorf("audit ledger FAILED verification: %s", status.Error)
		}

		info, err := c.LedgerInfo(ctx)
		if err != nil {
			fmt.Println("✓ Audit ledger intact")
			return nil
		}
		fmt.Printf("✓ Audit ledger intact: %d entries, root %s\n", info.Entries, info.Root)
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerInfoCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
}

// ── corpus ───────────────────────────────────────────────────────────────────

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Work with analyzer knowledge corpus files",
}

var corpusValidateCmd = &cobra.Command{
	Use:   "validate <corpus.yaml>",
	Short: "Lint a corpus file without loading it into a service",
	Long: `Validate parses a corpus file and reports how many vulnerability
patterns and malicious signatures it contains. Run it in CI before
shipping corpus updates; the service refuses invalid corpora at startup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read corpus: %w", err)
		}
		patterns, signatures, err := knowledge.ValidateCorpus(data)
		if err != nil {
			return fmt.Errorf("corpus invalid: %w", err)
		}
		fmt.Printf("✓ Corpus valid: %d vulnerability pattern(s), %d malicious signature(s)\n",
			patterns, signatures)
		return nil
	},
}

func init() {
	corpusCmd.AddCommand(corpusValidateCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the toolvet CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toolvet %s\n", version)
	},
}
