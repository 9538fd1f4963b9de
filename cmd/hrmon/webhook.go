package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/consumer/webhook"
	"github.com/srg/hrmon/internal/hr"
)

var webhookCmd = &cobra.Command{
	Use:     "webhook",
	Aliases: []string{"webhooks"},
	Short:   "Manage the webhook list",
	Long: `Manage the webhooks fired on connected, disconnected and heart_rate_updated events.

URL, body and headers may contain {bpm} and {event} placeholders.
Body and headers are JSON text, e.g. --headers '{"Authorization":"Bearer x"}'.`,
}

var webhookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured webhooks",
	Args:  cobra.NoArgs,
	RunE:  runWebhookList,
}

var webhookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a webhook or replace the one with the same name",
	Args:  cobra.NoArgs,
	RunE:  runWebhookAdd,
}

var webhookRemoveCmd = &cobra.Command{
	Use:   "remove <name|id>",
	Short: "Remove a webhook",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhookRemove,
}

var webhookTestCmd = &cobra.Command{
	Use:   "test <name|id>",
	Short: "Send one request with a sample reading",
	Long: fmt.Sprintf(`Sends the webhook once with bpm=%d and event=%s, whether or not it is enabled,
and prints the response status.`, webhook.TestBPM, webhook.EventTest),
	Args: cobra.ExactArgs(1),
	RunE: runWebhookTest,
}

var webhookValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every webhook entry",
	Args:  cobra.NoArgs,
	RunE:  runWebhookValidate,
}

var webhookSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replace the webhook file with the published preset list",
	Long: `Downloads the preset webhook list and, if it parses, overwrites the local
webhook file. Local changes are lost.`,
	Args: cobra.NoArgs,
	RunE: runWebhookSync,
}

var (
	hookName          string
	hookURL           string
	hookMethod        string
	hookBody          string
	hookHeaders       string
	hookTriggers      []string
	hookSkipUnchanged bool
	hookDisabled      bool
	hookTimeout       int
	hookSyncURL       string
)

func init() {
	f := webhookAddCmd.Flags()
	f.StringVar(&hookName, "name", "", "Webhook name (required)")
	f.StringVar(&hookURL, "url", "", "Target URL (required)")
	f.StringVar(&hookMethod, "method", webhook.DefaultMethod, "HTTP method")
	f.StringVar(&hookBody, "body", "", "JSON body template")
	f.StringVar(&hookHeaders, "headers", "", "JSON object of extra headers")
	f.StringSliceVar(&hookTriggers, "trigger", nil, "Events that fire the webhook (default heart_rate_updated)")
	f.BoolVar(&hookSkipUnchanged, "skip-unchanged", false, "Skip updates whose bpm equals the last one sent")
	f.BoolVar(&hookDisabled, "disabled", false, "Add the webhook switched off")
	f.IntVar(&hookTimeout, "timeout", 0, "Request timeout in seconds (0 uses the default)")
	_ = webhookAddCmd.MarkFlagRequired("name")
	_ = webhookAddCmd.MarkFlagRequired("url")

	webhookSyncCmd.Flags().StringVar(&hookSyncURL, "url", "", "Preset list URL (defaults to the settings sync_url)")

	webhookCmd.AddCommand(webhookListCmd)
	webhookCmd.AddCommand(webhookAddCmd)
	webhookCmd.AddCommand(webhookRemoveCmd)
	webhookCmd.AddCommand(webhookTestCmd)
	webhookCmd.AddCommand(webhookValidateCmd)
	webhookCmd.AddCommand(webhookSyncCmd)
}

// openWebhooks loads the webhook file named by the settings.
func openWebhooks(cmd *cobra.Command) (*webhook.Store, string, *logrus.Logger, error) {
	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return nil, "", nil, err
	}
	cmd.SilenceUsage = true

	s, err := loadSettings()
	if err != nil {
		return nil, "", nil, err
	}
	store := webhook.NewStore(s.Webhooks.File, logger)
	if err := store.Load(); err != nil {
		return nil, "", nil, err
	}
	return store, s.Webhooks.SyncURL, logger, nil
}

func runWebhookList(cmd *cobra.Command, args []string) error {
	store, _, _, err := openWebhooks(cmd)
	if err != nil {
		return err
	}
	return displayWebhooksTable(cmd.OutOrStdout(), store.List())
}

func runWebhookAdd(cmd *cobra.Command, args []string) error {
	store, _, _, err := openWebhooks(cmd)
	if err != nil {
		return err
	}

	cfg := webhook.Config{
		Name:           hookName,
		Enabled:        !hookDisabled,
		URL:            hookURL,
		Method:         hookMethod,
		Body:           hookBody,
		Headers:        hookHeaders,
		SkipUnchanged:  hookSkipUnchanged,
		TimeoutSeconds: hookTimeout,
	}
	for _, t := range hookTriggers {
		cfg.Triggers = append(cfg.Triggers, hr.Event(t))
	}
	if existing, ok := store.Get(hookName); ok {
		cfg.ID = existing.ID
	}

	saved, err := store.Put(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved webhook %s (%s)\n", saved.Name, saved.ID)
	return nil
}

func runWebhookRemove(cmd *cobra.Command, args []string) error {
	store, _, _, err := openWebhooks(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed webhook %s\n", args[0])
	return nil
}

func runWebhookTest(cmd *cobra.Command, args []string) error {
	store, _, logger, err := openWebhooks(cmd)
	if err != nil {
		return err
	}
	cfg, ok := store.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", webhook.ErrNotFound, args[0])
	}

	d := webhook.NewEngine(store, logger).Test(cmd.Context(), cfg)
	fmt.Fprintln(cmd.OutOrStdout(), d.String())
	if d.Response != "" {
		fmt.Fprintln(cmd.OutOrStdout(), d.Response)
	}
	if !d.OK() {
		if d.Err != nil {
			return d.Err
		}
		return fmt.Errorf("%w: %d", webhook.ErrHTTPStatus, d.Status)
	}
	return nil
}

func runWebhookValidate(cmd *cobra.Command, args []string) error {
	store, _, _, err := openWebhooks(cmd)
	if err != nil {
		return err
	}

	var failed []error
	out := cmd.OutOrStdout()
	for _, h := range store.List() {
		if err := h.Validate(); err != nil {
			fmt.Fprintf(out, "%s: %s\n", h.Name, flatten(err))
			failed = append(failed, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", h.Name)
	}
	return errors.Join(failed...)
}

func runWebhookSync(cmd *cobra.Command, args []string) error {
	store, syncURL, logger, err := openWebhooks(cmd)
	if err != nil {
		return err
	}
	if hookSyncURL != "" {
		syncURL = hookSyncURL
	}

	n, err := webhook.NewSyncer(store, syncURL, logger).Sync(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d webhooks to %s\n", n, store.Path())
	return nil
}

func displayWebhooksTable(out io.Writer, hooks []webhook.Config) error {
	if len(hooks) == 0 {
		fmt.Fprintln(out, "No webhooks configured")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tMETHOD\tTRIGGERS\tURL")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, h := range hooks {
		triggers := make([]string, 0, len(h.Triggers))
		for _, t := range h.Triggers {
			triggers = append(triggers, string(t))
		}
		if len(triggers) == 0 {
			triggers = append(triggers, string(hr.EventUpdated))
		}

		url := h.URL
		if len(url) > 50 {
			url = url[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", h.Name, h.Enabled, h.EffectiveMethod(), strings.Join(triggers, ","), url)
	}
	return w.Flush()
}
