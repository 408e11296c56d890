package remotetest

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/wirechat-client/internal/model"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

func TestSignUpThenSignIn(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.AddProfile(model.Profile{ID: "u1", Username: "alice"}, "secret")

	if _, err := f.SignUp(ctx, "alice", "", "other"); !errors.Is(err, remote.ErrAlreadyExists) {
		t.Fatalf("SignUp taken username err = %v, want ErrAlreadyExists", err)
	}

	s, err := f.SignUp(ctx, "carol", "carol@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s.UserID == "" || s.Username != "carol" {
		t.Fatalf("unexpected session %+v", s)
	}
	if got, err := f.Session(ctx); err != nil || got.UserID != s.UserID {
		t.Fatalf("Session = %+v, %v; want the new account", got, err)
	}

	if err := f.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := f.SignIn(ctx, "carol", "hunter2"); err != nil {
		t.Fatalf("SignIn after SignUp: %v", err)
	}
	if f.Calls(OpSignUp) != 2 {
		t.Fatalf("sign_up calls = %d, want 2", f.Calls(OpSignUp))
	}
}
