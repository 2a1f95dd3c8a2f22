package dnsname

import (
	"strings"
	"testing"
)

func TestNormalize_CaseFold(t *testing.T) {
	got, err := Normalize("Ads.Example.COM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ads.example.com" {
		t.Errorf("got %q, want ads.example.com", got)
	}
}

func TestNormalize_TrailingDot(t *testing.T) {
	got, err := Normalize("a.b.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a.b" {
		t.Errorf("got %q, want a.b", got)
	}

	if _, err := Normalize("."); err == nil {
		t.Error("expected error for bare dot")
	} else if ine, ok := err.(*InvalidNameError); !ok || ine.Reason != ReasonEmpty {
		t.Errorf("expected ReasonEmpty, got %v", err)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	cases := []string{"Example.com", "a.b.c.", "x-y.example.org"}
	for _, c := range cases {
		once, err := Normalize(c)
		if err != nil {
			t.Fatalf("normalize(%q): %v", c, err)
		}
		twice, err := Normalize(string(once))
		if err != nil {
			t.Fatalf("normalize(normalize(%q)): %v", c, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", c, once, twice)
		}
	}
}

func TestNormalize_LabelBounds(t *testing.T) {
	longLabel := strings.Repeat("a", 64)
	if _, err := Normalize(longLabel + ".com"); err == nil {
		t.Error("expected error for 64-char label")
	}

	// Build a name whose total length exceeds 253 bytes using valid labels.
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		sb.WriteString(strings.Repeat("a", 50))
		sb.WriteByte('.')
	}
	sb.WriteString("com")
	if _, err := Normalize(sb.String()); err == nil {
		t.Error("expected error for name exceeding 253 bytes")
	}
}

func TestNormalize_RejectsEmptyLabel(t *testing.T) {
	if _, err := Normalize("a..b"); err == nil {
		t.Error("expected error for empty label")
	}
}

func TestNormalize_RejectsHyphenEdges(t *testing.T) {
	if _, err := Normalize("-ads.example.com"); err == nil {
		t.Error("expected error for label starting with hyphen")
	}
	if _, err := Normalize("ads-.example.com"); err == nil {
		t.Error("expected error for label ending with hyphen")
	}
}

func TestName_Ancestors(t *testing.T) {
	n := Name("a.b.example.com")
	got := n.Ancestors()
	want := []Name{"b.example.com", "example.com", "com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ancestor[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestName_Ancestors_SingleLabel(t *testing.T) {
	n := Name("com")
	if got := n.Ancestors(); len(got) != 0 {
		t.Errorf("expected no ancestors for single-label name, got %v", got)
	}
}
