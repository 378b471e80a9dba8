package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/store"
)

var (
	rolloutCmd = &cobra.Command{
		Use:   "rollout",
		Short: "Canary soul rollouts",
	}
	rolloutListCmd = &cobra.Command{
		Use:   "list",
		Short: "List rollouts, newest first",
		RunE:  runRolloutList,
	}
	rolloutStartCmd = &cobra.Command{
		Use:   "start <agent>",
		Short: "Start a canary of new soul content",
		Args:  cobra.ExactArgs(1),
		RunE:  runRolloutStart,
	}
	rolloutEvaluateCmd = &cobra.Command{
		Use:   "evaluate [id]",
		Short: "Evaluate one canary, or all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRolloutEvaluate,
	}
	rolloutPromoteCmd = &cobra.Command{
		Use:   "promote <id>",
		Short: "Promote the candidate now",
		Args:  cobra.ExactArgs(1),
		RunE:  decisionCommand(func(a *app) decideFunc { return a.engine.Promote }),
	}
	rolloutRollbackCmd = &cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll the candidate back now",
		Args:  cobra.ExactArgs(1),
		RunE:  decisionCommand(func(a *app) decideFunc { return a.engine.Rollback }),
	}
	rolloutCancelCmd = &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a canary without a verdict",
		Args:  cobra.ExactArgs(1),
		RunE:  decisionCommand(func(a *app) decideFunc { return a.engine.Cancel }),
	}
	rolloutTrafficCmd = &cobra.Command{
		Use:   "traffic <id> <percent>",
		Short: "Change the candidate traffic share",
		Args:  cobra.ExactArgs(2),
		RunE:  runRolloutTraffic,
	}
)

type decideFunc func(ctx context.Context, id, reason string) (*store.SoulRollout, error)

func init() {
	rolloutListCmd.Flags().String("agent", "", "Filter by agent id")
	rolloutListCmd.Flags().String("status", "", "Filter by status")
	rolloutListCmd.Flags().Int("limit", 20, "Max results (0 for all)")

	rolloutStartCmd.Flags().String("file", "", "Soul content file ('-' for stdin)")
	rolloutStartCmd.Flags().Int("traffic", 0, "Candidate traffic percent (default from config)")
	rolloutStartCmd.Flags().String("author", "", "Author of the change")
	rolloutStartCmd.Flags().String("note", "", "Change note")
	_ = rolloutStartCmd.MarkFlagRequired("file")

	rolloutEvaluateCmd.Flags().Bool("all", false, "Evaluate every active canary")

	for _, c := range []*cobra.Command{rolloutPromoteCmd, rolloutRollbackCmd, rolloutCancelCmd} {
		c.Flags().String("reason", "", "Reason recorded with the decision")
	}

	rolloutCmd.AddCommand(rolloutListCmd, rolloutStartCmd, rolloutEvaluateCmd,
		rolloutPromoteCmd, rolloutRollbackCmd, rolloutCancelCmd, rolloutTrafficCmd)
	rootCmd.AddCommand(rolloutCmd)
}

// readContent reads soul content from path, or from in when path is "-".
func readContent(in io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func runRolloutList(cmd *cobra.Command, args []string) error {
	f := store.RolloutFilter{}
	f.AgentID, _ = cmd.Flags().GetString("agent")
	f.Status, _ = cmd.Flags().GetString("status")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.store.ListRollouts(cmd.Context(), f)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No rollouts found.")
		return nil
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tTRAFFIC\tCREATED\tREASON")
	for _, ro := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			ro.ID, ro.AgentID, statusColor(ro.Status), ro.TrafficPercent, fmtTime(ro.CreatedAt), truncate(ro.Reason, 60))
	}
	return tw.Flush()
}

func runRolloutStart(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	content, err := readContent(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	req := rollout.StartRequest{AgentID: args[0], Content: content}
	req.Author, _ = cmd.Flags().GetString("author")
	req.Note, _ = cmd.Flags().GetString("note")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	req.TrafficPercent = a.cfg.Rollout.DefaultTrafficPercent
	if cmd.Flags().Changed("traffic") {
		req.TrafficPercent, _ = cmd.Flags().GetInt("traffic")
	}
	ro, err := a.engine.StartCanary(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printRollout(cmd.OutOrStdout(), "Canary started", ro)
}

func runRolloutEvaluate(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 1) {
		return fmt.Errorf("give a rollout id or --all")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	if !all {
		ev, err := a.engine.Evaluate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(w, ev)
		}
		printEvaluation(w, ev)
		return nil
	}

	res, err := a.engine.EvaluateAll(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(w, res)
	}
	printHeader(w, "Rollout evaluation")
	fmt.Fprintf(w, "Evaluated %d: %d promoted, %d rolled back, %d pending\n",
		res.Evaluated, res.Promoted, res.RolledBack, res.Pending)
	for _, ev := range res.Evaluations {
		printEvaluation(w, ev)
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d rollout evaluation(s) failed", len(res.Errors))
	}
	return nil
}

func decisionCommand(pick func(a *app) decideFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ro, err := pick(a)(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		return printRollout(cmd.OutOrStdout(), "Rollout "+ro.Status, ro)
	}
}

func runRolloutTraffic(cmd *cobra.Command, args []string) error {
	pct, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid percent %q", args[1])
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ro, err := a.engine.SetTraffic(cmd.Context(), args[0], pct)
	if err != nil {
		return err
	}
	return printRollout(cmd.OutOrStdout(), "Traffic updated", ro)
}

func printRollout(w io.Writer, title string, ro *store.SoulRollout) error {
	if flagJSON {
		return printJSON(w, ro)
	}
	printHeader(w, title)
	fmt.Fprintf(w, "ID:        %s\n", ro.ID)
	fmt.Fprintf(w, "Agent:     %s\n", ro.AgentID)
	fmt.Fprintf(w, "Status:    %s\n", statusColor(ro.Status))
	fmt.Fprintf(w, "Traffic:   %d%%\n", ro.TrafficPercent)
	fmt.Fprintf(w, "Baseline:  %s\n", ro.BaselineVersionID)
	fmt.Fprintf(w, "Candidate: %s\n", ro.CandidateVersionID)
	if ro.Reason != "" {
		fmt.Fprintf(w, "Reason:    %s\n", ro.Reason)
	}
	return nil
}

func printEvaluation(w io.Writer, ev *rollout.Evaluation) {
	fmt.Fprintf(w, "%s (%s): %s", ev.RolloutID, ev.AgentID, statusColor(string(ev.Decision)))
	if ev.Reason != "" {
		fmt.Fprintf(w, ", %s", ev.Reason)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  samples: baseline %d, candidate %d (min %d)\n",
		ev.Baseline.Samples, ev.Candidate.Samples, ev.MinSamples)
	for _, s := range ev.Signals {
		fmt.Fprintf(w, "  %-13s baseline %.3f  candidate %.3f  %s\n", s.Name, s.Baseline, s.Candidate, s.Verdict)
	}
}
