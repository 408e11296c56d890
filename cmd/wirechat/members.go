package main

import (
	"github.com/spf13/cobra"
)

func init() {
	membersCmd.AddCommand(membersListCmd, membersCandidatesCmd, membersAddCmd, membersRemoveCmd)
	membersCandidatesCmd.Flags().StringP("query", "q", "", "filter by username")
	rootCmd.AddCommand(membersCmd)
}

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "Manage conversation participants",
}

var membersListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "List participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ps, err := a.Members().Members(ctx, args[0])
		if err != nil {
			return err
		}
		return writeProfiles(cmd.OutOrStdout(), ps)
	},
}

var membersCandidatesCmd = &cobra.Command{
	Use:   "candidates <conversation-id>",
	Short: "List users who can be added",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		q, _ := cmd.Flags().GetString("query")
		ps, err := a.Members().Candidates(ctx, args[0], q)
		if err != nil {
			return err
		}
		return writeProfiles(cmd.OutOrStdout(), ps)
	},
}

var membersAddCmd = &cobra.Command{
	Use:   "add <conversation-id> <user-id>",
	Short: "Add a participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Members().Add(ctx, args[0], args[1])
	},
}

var membersRemoveCmd = &cobra.Command{
	Use:   "remove <conversation-id> <user-id>",
	Short: "Remove a participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Members().Remove(ctx, args[0], args[1])
	},
}
