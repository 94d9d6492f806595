package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{"", "2025-03-14", false},
		{"today", "2025-03-14", false},
		{"2025-01-02", "2025-01-02", false},
		{"yesterday", "2025-03-13", false},
		{"2 days ago", "2025-03-12", false},
		{"not a date", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseDate(tt.expr, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDate(%q) = %q, want error", tt.expr, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("ParseDate(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestEncode(t *testing.T) {
	v := struct {
		Tenant string `json:"tenant" yaml:"tenant"`
		Count  int    `json:"count" yaml:"count"`
	}{"acme", 3}

	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, v); err != nil {
		t.Fatalf("Encode(json) failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"tenant": "acme"`) {
		t.Errorf("json output = %s", buf.String())
	}

	buf.Reset()
	if err := Encode(&buf, FormatYAML, v); err != nil {
		t.Fatalf("Encode(yaml) failed: %v", err)
	}
	if buf.String() != "tenant: acme\ncount: 3\n" {
		t.Errorf("yaml output = %q", buf.String())
	}

	if err := Encode(&buf, FormatText, v); err == nil {
		t.Error("Encode(text) should fail")
	}
}

func TestRenderWithoutColor(t *testing.T) {
	DisableColor()

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	out := KeyValues([2]string{"Tenant", "acme"}, [2]string{"Unsynced", "4"})
	if !strings.Contains(out, "Tenant:   acme") || !strings.Contains(out, "Unsynced: 4") {
		t.Errorf("KeyValues() = %q", out)
	}
}
