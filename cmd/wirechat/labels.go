package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/service/labels"
)

func init() {
	labelsCmd.AddCommand(labelsListCmd, labelsCreateCmd, labelsAttachCmd, labelsDetachCmd)
	labelsCreateCmd.Flags().String("color", "", "hex color, one of "+strings.Join(labels.Palette(), " "))
	labelsListCmd.Flags().String("conversation", "", "only labels attached to this conversation")
	rootCmd.AddCommand(labelsCmd)
}

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Manage conversation labels",
}

var labelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conv, _ := cmd.Flags().GetString("conversation")
		if conv != "" {
			ls, err := a.Labels().ForConversation(ctx, conv)
			if err != nil {
				return err
			}
			return writeLabels(cmd.OutOrStdout(), ls)
		}
		ls, err := a.Labels().List(ctx)
		if err != nil {
			return err
		}
		return writeLabels(cmd.OutOrStdout(), ls)
	},
}

var labelsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		color, _ := cmd.Flags().GetString("color")
		l, err := a.Labels().Create(ctx, args[0], color)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created label %s (%s) %s\n", l.Name, l.Color, l.ID)
		return nil
	},
}

var labelsAttachCmd = &cobra.Command{
	Use:   "attach <conversation-id> <label-id>",
	Short: "Tag a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Labels().Attach(ctx, args[0], args[1])
	},
}

var labelsDetachCmd = &cobra.Command{
	Use:   "detach <conversation-id> <label-id>",
	Short: "Remove a tag from a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Labels().Detach(ctx, args[0], args[1])
	},
}
