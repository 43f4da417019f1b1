package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/siketchat/internal/backend"
	"github.com/kalambet/siketchat/internal/config"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/feedback"
	"github.com/kalambet/siketchat/internal/notify"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the support chat in the terminal",
	Long: `Open the support chat in the terminal.

The connection to the backend is checked on start and retried automatically
a few times when it fails. Lines starting with / are commands; type /help to
list them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote-session")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, appOptions{remoteSessions: remote})
		if err != nil {
			return err
		}
		defer a.Close()

		a.widget.Start(ctx)
		return runChat(ctx, a.widget, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().Bool("remote-session", false, "ask the backend for a new session id on /reset")
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the support backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		return runHealth(cmd.Context(), newClient(cfg))
	},
}

func runHealth(ctx context.Context, client *backend.Client) error {
	printStatus("Backend", "%s", client.BaseURL())
	status, err := client.Health(ctx)
	if err != nil {
		printStatus("State", "%s", connectivity.Disconnected)
		return fmt.Errorf("backend not reachable: %w", err)
	}
	printStatus("Status", "%s", status)
	printStatus("State", "%s", connectivity.Connected)
	return nil
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <log_id> <rating>",
	Short: "Rate a backend reply by its log id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid rating %q: %w", args[1], err)
		}
		comments, _ := cmd.Flags().GetString("comments")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		return runFeedback(cmd.Context(), newClient(cfg), backend.LogID(args[0]), rating, comments)
	},
}

func init() {
	feedbackCmd.Flags().String("comments", "", "optional comments sent with the rating")
}

func runFeedback(ctx context.Context, client *backend.Client, logID backend.LogID, rating int, comments string) error {
	sub := feedback.NewSubmitter(client, feedback.Options{Notifier: notify.Func(printNotification)})
	return sub.Submit(ctx, logID, rating, comments)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past exchanges recorded by the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		customer, _ := cmd.Flags().GetString("customer")
		sess, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		if customer == "" && sess == "" {
			customer = cfg.Identity.CustomerID
		}
		return runHistory(cmd.Context(), newClient(cfg), backend.HistoryQuery{
			CustomerID: customer,
			SessionID:  sess,
			Limit:      limit,
		})
	},
}

func init() {
	historyCmd.Flags().String("customer", "", "customer id (defaults to identity.customer_id)")
	historyCmd.Flags().String("session", "", "session id; takes precedence over --customer")
	historyCmd.Flags().Int("limit", 20, "maximum number of entries (1-100)")
}

func runHistory(ctx context.Context, client *backend.Client, q backend.HistoryQuery) error {
	entries, err := client.History(ctx, q)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No history.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG ID\tCREATED\tINTENT\tCONFIDENCE\tMESSAGE\tREPLY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			e.LogID, e.CreatedAt, e.IntentLabel, e.ConfidenceScore, truncate(e.UserMessage, 40), truncate(e.BotResponse, 60))
	}
	return tw.Flush()
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or reset the chat session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.widget.Session()
		printStatus("Session", "%s", s.ID)
		printStatus("Created", "%s", s.CreatedAt.Format("2006-01-02 15:04:05"))
		printStatus("Customer", "%s", a.widget.CustomerID())
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")

		a, err := openApp(cmd.Context(), appOptions{remoteSessions: remote, notifier: notify.Discard})
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.widget.Reset(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("New session %s", s.ID)
		return nil
	},
}

func init() {
	sessionResetCmd.Flags().Bool("remote", false, "ask the backend to mint the new session id")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change sound preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		printPrefs(a.widget.Preferences(), nil)
		return nil
	},
}

var prefsSoundCmd = &cobra.Command{
	Use:   "sound",
	Short: "Toggle sound cues on or off",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		printPrefs(a.widget.ToggleSound())
		return nil
	},
}

var prefsVolumeCmd = &cobra.Command{
	Use:   "volume <0-1|up|down>",
	Short: "Set the cue volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		switch args[0] {
		case "up":
			printPrefs(a.widget.VolumeUp())
		case "down":
			printPrefs(a.widget.VolumeDown())
		default:
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid volume %q: %w", args[0], err)
			}
			printPrefs(a.widget.SetVolume(v))
		}
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsSoundCmd)
	prefsCmd.AddCommand(prefsVolumeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func newClient(cfg config.Config) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, backend.Options{
		Token:           cfg.Backend.APIToken,
		HealthTimeout:   cfg.Backend.HealthTimeout,
		ChatTimeout:     cfg.Backend.ChatTimeout,
		FeedbackTimeout: cfg.Backend.FeedbackTimeout,
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
