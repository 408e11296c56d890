package labels_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vovakirdan/wirechat-client/internal/remote"
	"github.com/vovakirdan/wirechat-client/internal/remote/remotetest"
	"github.com/vovakirdan/wirechat-client/internal/service/labels"
)

type recordingRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRefresher) RefreshConversation(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	svc := labels.New(fake, nil, nil)

	tests := []struct {
		name      string
		label     string
		color     string
		wantErr   error
		wantColor string
	}{
		{name: "empty name", label: "   ", wantErr: labels.ErrEmptyName},
		{name: "bad color", label: "Work", color: "blue", wantErr: labels.ErrInvalidColor},
		{name: "short hex", label: "Work", color: "#FFF", wantErr: labels.ErrInvalidColor},
		{name: "default color", label: "  Work  ", wantColor: labels.DefaultColor},
		{name: "lowercase hex", label: "Home", color: "#10b981", wantColor: "#10B981"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := svc.Create(ctx, tt.label, tt.color)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if l.ID == "" {
				t.Fatalf("expected generated id")
			}
			if l.Color != tt.wantColor {
				t.Errorf("Color = %q, want %q", l.Color, tt.wantColor)
			}
		})
	}

	if calls := fake.Calls(remotetest.OpCall); calls != 2 {
		t.Errorf("remote calls = %d, want only valid creates to reach the backend", calls)
	}
}

func TestAttachDetachAndAvailable(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	ref := &recordingRefresher{}
	svc := labels.New(fake, ref, nil)

	work, err := svc.Create(ctx, "Work", "")
	if err != nil {
		t.Fatalf("Create work: %v", err)
	}
	urgent, err := svc.Create(ctx, "Urgent", "#EF4444")
	if err != nil {
		t.Fatalf("Create urgent: %v", err)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Name != "Urgent" || all[1].Name != "Work" {
		t.Fatalf("List = %+v, want sorted by name", all)
	}

	if err := svc.Attach(ctx, "c1", work.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	attached, err := svc.ForConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("ForConversation: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != work.ID {
		t.Fatalf("attached = %+v", attached)
	}

	avail, err := svc.Available(ctx, "c1")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(avail) != 1 || avail[0].ID != urgent.ID {
		t.Fatalf("available = %+v, want only Urgent", avail)
	}

	if err := svc.Detach(ctx, "c1", work.ID); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	attached, _ = svc.ForConversation(ctx, "c1")
	if len(attached) != 0 {
		t.Fatalf("attached after detach = %+v", attached)
	}

	if len(ref.ids) != 2 || ref.ids[0] != "c1" || ref.ids[1] != "c1" {
		t.Errorf("refreshed = %v, want c1 twice", ref.ids)
	}
}

func TestAttachUnknownLabelFails(t *testing.T) {
	fake := remotetest.New()
	ref := &recordingRefresher{}
	svc := labels.New(fake, ref, nil)

	err := svc.Attach(context.Background(), "c1", "missing")
	if !errors.Is(err, remote.ErrWriteFailed) {
		t.Fatalf("err = %v, want ErrWriteFailed", err)
	}
	if len(ref.ids) != 0 {
		t.Errorf("refresh triggered after failed attach")
	}
}

func TestPaletteContainsDefault(t *testing.T) {
	for _, c := range labels.Palette() {
		if c == labels.DefaultColor {
			return
		}
	}
	t.Fatalf("palette %v lacks default color", labels.Palette())
}
