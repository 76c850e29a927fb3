package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/rickgao/schedule-sync/internal/connection"
	"github.com/rickgao/schedule-sync/internal/model"
)

// recorder captures the intents a command line produces. Methods the
// commands do not call panic through the nil embedded interface.
type recorder struct {
	connection.Manager
	calls []string
}

func (r *recorder) SendCursor(x, y float64) error {
	r.calls = append(r.calls, "cursor")
	return nil
}

func (r *recorder) SendSelection(itemID *string) error {
	if itemID == nil {
		r.calls = append(r.calls, "select:-")
	} else {
		r.calls = append(r.calls, "select:"+*itemID)
	}
	return nil
}

func (r *recorder) SendEdit(itemID string, changes map[string]any) error {
	r.calls = append(r.calls, "edit:"+itemID)
	return nil
}

func (r *recorder) SendComment(c model.CommentData) (string, error) {
	r.calls = append(r.calls, "comment:"+c.ItemID+":"+c.Text)
	return "c-1", nil
}

func (r *recorder) RequestLock(itemID string) error {
	r.calls = append(r.calls, "lock:"+itemID)
	return nil
}

func (r *recorder) ReleaseLock(itemID string) error {
	r.calls = append(r.calls, "unlock:"+itemID)
	return nil
}

func (r *recorder) SendTyping(on bool) error {
	if on {
		r.calls = append(r.calls, "typing:on")
	} else {
		r.calls = append(r.calls, "typing:off")
	}
	return nil
}

func (r *recorder) SendApproval(status, comments string) error {
	r.calls = append(r.calls, "approve:"+status+":"+comments)
	return nil
}

func TestExecute(t *testing.T) {
	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{line: "cursor 10 20", want: "cursor"},
		{line: "cursor ten 20", wantErr: true},
		{line: "select X12", want: "select:X12"},
		{line: "select -", want: "select:-"},
		{line: "edit X12 qty=3 note=rush", want: "edit:X12"},
		{line: "edit X12 qty", wantErr: true},
		{line: "comment X12 check the qty", want: "comment:X12:check the qty"},
		{line: "lock R07", want: "lock:R07"},
		{line: "unlock R07", want: "unlock:R07"},
		{line: "typing on", want: "typing:on"},
		{line: "typing maybe", wantErr: true},
		{line: "approve approved looks good", want: "approve:approved:looks good"},
		{line: "approve maybe", wantErr: true},
		{line: "frobnicate", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r := &recorder{}
			_, err := execute(r, tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, calls = %v", r.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if len(r.calls) != 1 || r.calls[0] != tt.want {
				t.Errorf("calls = %v, want [%s]", r.calls, tt.want)
			}
		})
	}
}

func TestExecute_Quit(t *testing.T) {
	if _, err := execute(&recorder{}, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit = %v, want errQuit", err)
	}
	if out, err := execute(&recorder{}, "   "); out != "" || err != nil {
		t.Errorf("blank line = %q, %v", out, err)
	}
}

func TestParseChanges(t *testing.T) {
	changes, err := parseChanges([]string{"qty=3", "note=rush order", "flags=[1,2]", "ok=true"})
	if err != nil {
		t.Fatalf("parseChanges: %v", err)
	}
	if changes["qty"] != 3.0 {
		t.Errorf("qty = %#v, want 3.0", changes["qty"])
	}
	if changes["note"] != "rush order" {
		t.Errorf("note = %#v", changes["note"])
	}
	if flags, ok := changes["flags"].([]any); !ok || len(flags) != 2 {
		t.Errorf("flags = %#v", changes["flags"])
	}
	if changes["ok"] != true {
		t.Errorf("ok = %#v", changes["ok"])
	}

	if _, err := parseChanges([]string{"=3"}); err == nil {
		t.Error("empty key accepted")
	}
}

func TestDescribe(t *testing.T) {
	ev := connection.Event{
		Type:          connection.EventCollaborators,
		Collaborators: []model.Collaborator{{UserID: "A"}, {UserID: "B"}},
	}
	if got := describe(ev); got != "[roster] A, B" {
		t.Errorf("describe = %q", got)
	}

	lost := connection.Event{Type: connection.EventDisconnect, Err: errors.New("reset")}
	if got := describe(lost); !strings.Contains(got, "reset") {
		t.Errorf("describe = %q", got)
	}
}
