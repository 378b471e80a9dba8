package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/itellico/joi-sub010/internal/soul"
)

var (
	soulCmd = &cobra.Command{
		Use:   "soul",
		Short: "Versioned agent souls",
	}
	soulInitCmd = &cobra.Command{
		Use:   "init <agent>",
		Short: "Seed version 1 of an agent's soul",
		Args:  cobra.ExactArgs(1),
		RunE:  runSoulInit,
	}
	soulShowCmd = &cobra.Command{
		Use:   "show <agent>",
		Short: "Print the active soul",
		Args:  cobra.ExactArgs(1),
		RunE:  runSoulShow,
	}
	soulVersionsCmd = &cobra.Command{
		Use:   "versions <agent>",
		Short: "List soul versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runSoulVersions,
	}
	soulUpdateCmd = &cobra.Command{
		Use:   "update <agent>",
		Short: "Activate new soul content immediately",
		Long:  "Activate new soul content immediately, bypassing the canary. Any canary in flight for the agent is cancelled.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSoulUpdate,
	}
	soulRollbackCmd = &cobra.Command{
		Use:   "rollback <agent>",
		Short: "Reactivate an earlier soul version",
		Args:  cobra.ExactArgs(1),
		RunE:  runSoulRollback,
	}
	soulAssignCmd = &cobra.Command{
		Use:   "assign <agent> <conversation>",
		Short: "Show (and record) which soul version serves a conversation",
		Args:  cobra.ExactArgs(2),
		RunE:  runSoulAssign,
	}
)

func init() {
	soulInitCmd.Flags().String("file", "", "Initial content file ('-' for stdin); default template when empty")
	soulInitCmd.Flags().String("author", "", "Author")

	soulUpdateCmd.Flags().String("file", "", "Soul content file ('-' for stdin)")
	soulUpdateCmd.Flags().String("author", "", "Author of the change")
	soulUpdateCmd.Flags().String("note", "", "Change note")
	_ = soulUpdateCmd.MarkFlagRequired("file")

	soulRollbackCmd.Flags().String("version", "", "Version id to reactivate (default: the previous version)")

	soulCmd.AddCommand(soulInitCmd, soulShowCmd, soulVersionsCmd, soulUpdateCmd, soulRollbackCmd, soulAssignCmd)
	rootCmd.AddCommand(soulCmd)
}

func runSoulInit(cmd *cobra.Command, args []string) error {
	var content string
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		var err error
		if content, err = readContent(cmd.InOrStdin(), path); err != nil {
			return err
		}
	}
	author, _ := cmd.Flags().GetString("author")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	v, created, err := a.souls.Init(cmd.Context(), args[0], content, author)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"version": v, "created": created})
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s soul v%d (%s)\n", v.AgentID, v.Version, v.ID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already has a soul; active v%d (%s)\n", v.AgentID, v.Version, v.ID)
	}
	if path, err := a.artifacts.Path(v.AgentID); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Artifact: %s\n", path)
	}
	return nil
}

func runSoulShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.souls.Show(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), v)
	}
	w := cmd.OutOrStdout()
	printHeader(w, fmt.Sprintf("%s soul v%d", v.AgentID, v.Version))
	fmt.Fprintln(w, v.Content)
	return nil
}

func runSoulVersions(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.souls.Versions(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), versions)
	}
	if len(versions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No soul versions for %s.\n", args[0])
		return nil
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "VERSION\tID\tACTIVE\tAUTHOR\tCREATED\tNOTE")
	for _, v := range versions {
		active := ""
		if v.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "v%d\t%s\t%s\t%s\t%s\t%s\n", v.Version, v.ID, active, v.Author, fmtTime(v.CreatedAt), truncate(v.Note, 50))
	}
	return tw.Flush()
}

func runSoulUpdate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	content, err := readContent(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	author, _ := cmd.Flags().GetString("author")
	note, _ := cmd.Flags().GetString("note")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	change, err := a.souls.Update(cmd.Context(), args[0], content, author, note)
	if err != nil {
		return err
	}
	return printChange(cmd.OutOrStdout(), change)
}

func runSoulRollback(cmd *cobra.Command, args []string) error {
	versionID, _ := cmd.Flags().GetString("version")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	change, err := a.souls.Rollback(cmd.Context(), args[0], versionID)
	if err != nil {
		return err
	}
	return printChange(cmd.OutOrStdout(), change)
}

func runSoulAssign(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.router.Resolve(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s / %s -> %s (%s)", args[0], args[1], res.SoulVersionID, res.Variant)
	if res.Stale {
		fmt.Fprint(w, ", rollout decided")
	}
	fmt.Fprintln(w)
	return nil
}

func printChange(w io.Writer, change *soul.Change) error {
	if flagJSON {
		return printJSON(w, change)
	}
	v := change.Version
	fmt.Fprintf(w, "Activated %s soul v%d (%s)\n", v.AgentID, v.Version, v.ID)
	for _, id := range change.Cancelled {
		fmt.Fprintf(w, "Cancelled rollout %s\n", id)
	}
	return nil
}
