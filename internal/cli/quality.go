package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/store"
)

var (
	observerCmd = &cobra.Command{
		Use:   "observer",
		Short: "Live quality observer settings",
	}
	observerConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Show or change the observer configuration",
		RunE:  runObserverConfig,
	}

	analysesCmd = &cobra.Command{
		Use:   "analyses",
		Short: "Inspect scored turns",
	}
	analysesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List analyses, newest first",
		RunE:  runAnalysesList,
	}
	analysesShowCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show one analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalysesShow,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Quality statistics over a trailing window",
		RunE:  runStats,
	}

	issuesCmd = &cobra.Command{
		Use:   "issues",
		Short: "Quality issues",
	}
	issuesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List issues, newest first",
		RunE:  runIssuesList,
	}

	reviewCmd = &cobra.Command{
		Use:   "review",
		Short: "Human review verdicts",
	}
	reviewAddCmd = &cobra.Command{
		Use:   "add <agent> <conversation> <approve|reject>",
		Short: "Record a review verdict for a conversation",
		Args:  cobra.ExactArgs(3),
		RunE:  runReviewAdd,
	}
)

func init() {
	observerConfigCmd.Flags().StringArray("set", nil, "Set a field (key=value); repeatable")
	observerCmd.AddCommand(observerConfigCmd)

	analysesListCmd.Flags().String("agent", "", "Filter by agent id")
	analysesListCmd.Flags().String("status", "", "Filter by status")
	analysesListCmd.Flags().Float64("min-score", -1, "Minimum quality score")
	analysesListCmd.Flags().Float64("max-score", -1, "Maximum quality score")
	analysesListCmd.Flags().Int("days", 0, "Only the last N days")
	analysesListCmd.Flags().Int("limit", 20, "Max results")
	analysesCmd.AddCommand(analysesListCmd, analysesShowCmd)

	statsCmd.Flags().Int("days", 7, "Window size in days")

	issuesListCmd.Flags().String("status", "", "Filter by status")
	issuesListCmd.Flags().String("severity", "", "Filter by severity")
	issuesListCmd.Flags().String("tag", "", "Filter by tag")
	issuesListCmd.Flags().String("agent", "", "Filter by agent id")
	issuesListCmd.Flags().Int("limit", 20, "Max results")
	issuesCmd.AddCommand(issuesListCmd)

	reviewAddCmd.Flags().String("message", "", "Message id the verdict refers to")
	reviewAddCmd.Flags().String("reviewer", "", "Reviewer name")
	reviewAddCmd.Flags().String("note", "", "Free-form note")
	reviewCmd.AddCommand(reviewAddCmd)

	rootCmd.AddCommand(observerCmd, analysesCmd, statsCmd, issuesCmd, reviewCmd)
}

func runObserverConfig(cmd *cobra.Command, args []string) error {
	sets, _ := cmd.Flags().GetStringArray("set")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := a.settings.ObserverConfig(cmd.Context())
	if err != nil {
		return err
	}
	if len(sets) > 0 {
		for _, kv := range sets {
			if err := applyObserverSetting(&cfg, kv); err != nil {
				return err
			}
		}
		if err := a.settings.Update(cmd.Context(), cfg); err != nil {
			return err
		}
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), cfg)
	}
	w := cmd.OutOrStdout()
	printHeader(w, "Observer config")
	fmt.Fprintf(w, "enabled:              %t\n", cfg.Enabled)
	fmt.Fprintf(w, "qualityThreshold:     %.2f\n", cfg.QualityThreshold)
	fmt.Fprintf(w, "skipDryRun:           %t\n", cfg.SkipDryRun)
	fmt.Fprintf(w, "minUserMessageLength: %d\n", cfg.MinUserMessageLength)
	return nil
}

// applyObserverSetting parses one key=value pair onto cfg. Keys match the
// JSON field names.
func applyObserverSetting(cfg *store.ObserverConfig, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("invalid --set %q: want key=value", kv)
	}
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	var err error
	switch key {
	case "enabled":
		cfg.Enabled, err = strconv.ParseBool(value)
	case "qualityThreshold":
		cfg.QualityThreshold, err = strconv.ParseFloat(value, 64)
	case "skipDryRun":
		cfg.SkipDryRun, err = strconv.ParseBool(value)
	case "minUserMessageLength":
		cfg.MinUserMessageLength, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown observer setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func runAnalysesList(cmd *cobra.Command, args []string) error {
	f := store.AnalysisFilter{}
	f.AgentID, _ = cmd.Flags().GetString("agent")
	f.Status, _ = cmd.Flags().GetString("status")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if v, _ := cmd.Flags().GetFloat64("min-score"); cmd.Flags().Changed("min-score") {
		f.MinScore = &v
	}
	if v, _ := cmd.Flags().GetFloat64("max-score"); cmd.Flags().Changed("max-score") {
		f.MaxScore = &v
	}
	if days, _ := cmd.Flags().GetInt("days"); days > 0 {
		f.Since = time.Now().UTC().AddDate(0, 0, -days)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.store.ListAnalyses(cmd.Context(), f)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No analyses found.")
		return nil
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tSCORE\tCREATED\tREASONING")
	for _, an := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			an.ID, an.AgentID, statusColor(an.Status), fmtScore(an.QualityScore), fmtTime(an.CreatedAt), truncate(an.Reasoning, 60))
	}
	return tw.Flush()
}

func runAnalysesShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	an, err := a.store.GetAnalysis(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), an)
	}
	w := cmd.OutOrStdout()
	printHeader(w, "Analysis "+an.ID)
	fmt.Fprintf(w, "Agent:        %s\n", an.AgentID)
	fmt.Fprintf(w, "Conversation: %s\n", an.ConversationID)
	fmt.Fprintf(w, "Status:       %s\n", statusColor(an.Status))
	fmt.Fprintf(w, "Score:        %s (correctness %s, tools %s, response %s)\n",
		fmtScore(an.QualityScore), fmtScore(an.Correctness), fmtScore(an.ToolAccuracy), fmtScore(an.ResponseQuality))
	if an.SoulVersionID != "" {
		fmt.Fprintf(w, "Soul:         %s (%s)\n", an.SoulVersionID, an.Variant)
	}
	if an.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning:    %s\n", an.Reasoning)
	}
	if an.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:        %s\n", an.ErrorMessage)
	}
	for _, issue := range an.IssuesDetected {
		fmt.Fprintf(w, "  - [%s] %s: %s\n", statusColor(issue.Severity), issue.Type, issue.Description)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.QualityStats(cmd.Context(), days)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), stats)
	}
	w := cmd.OutOrStdout()
	printHeader(w, fmt.Sprintf("Quality, last %d day(s)", stats.WindowDays))
	fmt.Fprintf(w, "Analyzed:     %d\n", stats.TotalAnalyzed)
	fmt.Fprintf(w, "Avg score:    %.2f\n", stats.AvgQualityScore)
	fmt.Fprintf(w, "Errors:       %d\n", stats.ErrorCount)
	fmt.Fprintf(w, "Pending:      %d\n", stats.PendingCount)
	fmt.Fprintf(w, "Issues today: %d\n", stats.IssuesToday)
	if len(stats.ByAgent) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "AGENT\tTURNS\tAVG")
		for _, ag := range stats.ByAgent {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\n", ag.AgentID, ag.Count, ag.AvgScore)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func runIssuesList(cmd *cobra.Command, args []string) error {
	f := store.IssueFilter{}
	f.Status, _ = cmd.Flags().GetString("status")
	f.Severity, _ = cmd.Flags().GetString("severity")
	f.Tag, _ = cmd.Flags().GetString("tag")
	f.AgentID, _ = cmd.Flags().GetString("agent")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.store.ListIssues(cmd.Context(), f)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No issues found.")
		return nil
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tSEVERITY\tSTATUS\tAGENT\tCREATED\tTITLE")
	for _, is := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			is.ID, statusColor(is.Severity), is.Status, is.AgentID, fmtTime(is.CreatedAt), truncate(is.Title, 60))
	}
	return tw.Flush()
}

func runReviewAdd(cmd *cobra.Command, args []string) error {
	rev := &store.Review{
		AgentID:        args[0],
		ConversationID: args[1],
		Verdict:        args[2],
	}
	rev.MessageID, _ = cmd.Flags().GetString("message")
	rev.Reviewer, _ = cmd.Flags().GetString("reviewer")
	rev.Note, _ = cmd.Flags().GetString("note")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rev.SoulVersionID, rev.Variant, err = a.router.Attribution(cmd.Context(), rev.AgentID, rev.ConversationID)
	if err != nil {
		return err
	}
	out, err := a.store.RecordReview(cmd.Context(), rev)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s review %s", out.Verdict, out.ID)
	if out.Variant != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (%s)", out.Variant)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
