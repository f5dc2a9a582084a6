package handlers

import (
	"evalboard/internal/core"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestColorScore(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		in   string
		want string
	}{
		{"85", "85/100"},
		{"60", "60/100"},
		{"12", "12/100"},
		{"??", "??"},
	}
	for _, tt := range tests {
		if got := colorScore(tt.in); got != tt.want {
			t.Errorf("colorScore(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNarrativeState(t *testing.T) {
	color.NoColor = true

	if got := narrativeState(core.PendingNarrative); got != "pending" {
		t.Errorf("Expected pending, got %q", got)
	}
	if got := narrativeState("Rapor oluşturulurken bir hata oluştu."); got != "error" {
		t.Errorf("Expected error, got %q", got)
	}
	if got := narrativeState("<p>Güçlü yönler</p>"); got != "ready" {
		t.Errorf("Expected ready, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("kısa", 10); got != "kısa" {
		t.Errorf("Expected short text unchanged, got %q", got)
	}
	got := truncate(strings.Repeat("ğ", 50), 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("Unexpected truncation: %q", got)
	}
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"serve", "report", "evaluations"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected %s subcommand, got %v (%v)", name, cmd, err)
		}
	}
}
