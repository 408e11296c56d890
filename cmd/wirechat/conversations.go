package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/remote/wirechat"
)

func init() {
	rootCmd.AddCommand(conversationsCmd, historyCmd, sendCmd)
	conversationsCmd.Flags().StringP("query", "q", "", "filter by name or participant")
	historyCmd.Flags().BoolP("follow", "f", false, "keep printing new messages until interrupted")
	sendCmd.Flags().String("file", "", "attach a file")
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, newest activity first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		q, _ := cmd.Flags().GetString("query")
		convs, err := a.Controller().Conversations(ctx, q)
		if err != nil {
			return err
		}
		return writeConversations(cmd.OutOrStdout(), convs)
	},
}

// settle selects conversationID and waits until the remote load has finished or failed.
func settle(ctx context.Context, c *core.Controller, conversationID string) (core.View, <-chan core.View, func(), error) {
	views, stopWatch := c.Watch()
	gen, err := c.Select(ctx, conversationID)
	if err != nil {
		stopWatch()
		return core.View{}, nil, nil, err
	}
	for {
		select {
		case v := <-views:
			if v.Generation == gen && v.State == core.StateLive {
				return v, views, stopWatch, nil
			}
		case <-ctx.Done():
			stopWatch()
			return core.View{}, nil, nil, ctx.Err()
		}
	}
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		v, views, stopWatch, err := settle(ctx, a.Controller(), args[0])
		if err != nil {
			return err
		}
		defer stopWatch()

		out := cmd.OutOrStdout()
		if v.Error != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s, showing cached messages\n", v.Error.Message)
		}
		seen := make(map[string]struct{}, len(v.Messages))
		for _, m := range v.Messages {
			seen[m.ID] = struct{}{}
			fmt.Fprintln(out, formatMessage(m))
		}

		if follow, _ := cmd.Flags().GetBool("follow"); !follow {
			return nil
		}
		for {
			select {
			case v := <-views:
				for _, m := range v.Messages {
					if _, ok := seen[m.ID]; ok {
						continue
					}
					seen[m.ID] = struct{}{}
					fmt.Fprintln(out, formatMessage(m))
				}
			case <-ctx.Done():
				return nil
			}
		}
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send a message, optionally with an attachment",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		var draft core.Draft
		if len(args) == 2 {
			draft.Content = args[1]
		}
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.Size() > wirechat.MaxUploadSize {
				return fmt.Errorf("%s is %s, the limit is %s", path,
					humanize.Bytes(uint64(info.Size())), humanize.Bytes(wirechat.MaxUploadSize))
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			draft.File = &core.DraftFile{Name: filepath.Base(path), Data: data}
		}

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		_, _, stopWatch, err := settle(ctx, a.Controller(), args[0])
		if err != nil {
			return err
		}
		stopWatch()

		msg, err := a.Controller().Send(ctx, draft)
		if errors.Is(err, core.ErrEmptyMessage) {
			return errors.New("nothing to send: pass text or --file")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatMessage(*msg))
		return a.Controller().FlushCache(ctx)
	},
}
