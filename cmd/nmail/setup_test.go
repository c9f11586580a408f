package main

import (
	"bufio"
	"strings"
	"testing"
)

func TestPromptTrimsNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello@example.com\n"))
	got := prompt(r, "Email: ")
	if got != "hello@example.com" {
		t.Errorf("got %q", got)
	}
}

func TestProviderPresetsCoverGmailAndOutlook(t *testing.T) {
	for _, name := range []string{"gmail", "outlook"} {
		preset, ok := providerPresets[name]
		if !ok {
			t.Fatalf("missing preset for %s", name)
		}
		if preset.imapHost == "" || preset.smtpHost == "" || preset.imapPort == 0 || preset.smtpPort == 0 {
			t.Errorf("incomplete preset for %s: %+v", name, preset)
		}
	}
}
