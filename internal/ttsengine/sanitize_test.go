package ttsengine

import (
	"strings"
	"testing"
)

func TestSanitizeSpeechTextStripsMarkdownAndCode(t *testing.T) {
	raw := "Sure! Here's `code` and a [link](https://example.com) for you. ```go\nfmt.Println()\n```"
	got := sanitizeSpeechText(raw)
	if got == "" {
		t.Fatalf("sanitizeSpeechText() returned empty string")
	}
	for _, bad := range []string{"`", "https://", "```"} {
		if strings.Contains(got, bad) {
			t.Fatalf("sanitized text %q still contains %q", got, bad)
		}
	}
}

func TestSanitizeSpeechTextDropsEmoji(t *testing.T) {
	got := sanitizeSpeechText("great job \U0001F600 keep going")
	if strings.Contains(got, "\U0001F600") {
		t.Fatalf("sanitized text %q still contains emoji", got)
	}
}

func TestSanitizeSpeechTextEmptyInput(t *testing.T) {
	if got := sanitizeSpeechText("   "); got != "" {
		t.Fatalf("sanitizeSpeechText(whitespace) = %q, want empty", got)
	}
}

func TestBridgeSpeechDeltaRestoresLeadingSpace(t *testing.T) {
	got := bridgeSpeechDelta(" world", "world", true)
	if got != " world" {
		t.Fatalf("bridgeSpeechDelta() = %q, want %q", got, " world")
	}
}

func TestBridgeSpeechDeltaNoOpWhenNothingSentYet(t *testing.T) {
	got := bridgeSpeechDelta(" world", "world", false)
	if got != "world" {
		t.Fatalf("bridgeSpeechDelta() = %q, want %q", got, "world")
	}
}
