package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vovakirdan/wirechat-client/internal/model"
)

var now = time.Now

func relTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func writeConversations(w io.Writer, convs []model.Conversation) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tMEMBERS\tLAST MESSAGE\tUPDATED")
	for _, c := range convs {
		last := ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Content, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.DisplayName(), c.ParticipantCount(), last, relTime(c.UpdatedAt))
	}
	return tw.Flush()
}

func formatMessage(m model.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Sender.Username, m.Content)
	if m.Attachment != nil {
		fmt.Fprintf(&b, " (%s: %s)", m.Attachment.Kind, m.Attachment.Name)
	}
	return b.String()
}

func writeProfiles(w io.Writer, ps []model.Profile) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tUSERNAME\tSTATUS\tLAST SEEN")
	for _, p := range ps {
		seen := "-"
		if p.LastSeen != nil {
			seen = relTime(*p.LastSeen)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Username, p.Status, seen)
	}
	return tw.Flush()
}

func writeLabels(w io.Writer, ls []model.Label) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tCOLOR")
	for _, l := range ls {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, l.Name, l.Color)
	}
	return tw.Flush()
}
