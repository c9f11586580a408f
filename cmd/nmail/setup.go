package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dusong7/nmail-go/internal/config"
	"github.com/dusong7/nmail-go/internal/credentials"
)

// providerPreset holds the per-provider defaults the original's
// SetupGmail/SetupOutlook hardcode.
type providerPreset struct {
	imapHost, smtpHost string
	imapPort, smtpPort int
	inbox, trash, drafts string
}

var providerPresets = map[string]providerPreset{
	"gmail": {
		imapHost: "imap.gmail.com", imapPort: 993,
		smtpHost: "smtp.gmail.com", smtpPort: 465,
		inbox: "INBOX", trash: "[Gmail]/Trash", drafts: "[Gmail]/Drafts",
	},
	"outlook": {
		imapHost: "imap-mail.outlook.com", imapPort: 993,
		smtpHost: "smtp-mail.outlook.com", smtpPort: 587,
		inbox: "Inbox", trash: "Deleted", drafts: "Drafts",
	},
}

// runSetup prompts for the account fields the preset doesn't already know
// and writes the resulting main.conf, mirroring the original's
// SetupCommon/SetupGmail/SetupOutlook flow.
func runSetup(dir, provider string) error {
	preset, ok := providerPresets[provider]
	if !ok {
		return fmt.Errorf("unsupported setup provider %q (want gmail or outlook)", provider)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create application directory: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	email := prompt(reader, "Email: ")
	name := prompt(reader, "Name: ")
	savePass := strings.EqualFold(prompt(reader, "Save password (y/n): "), "y")

	cfg := config.Defaults()
	cfg.Name = name
	cfg.Address = email
	cfg.User = email
	cfg.CacheEncrypt = true
	cfg.SavePass = savePass
	cfg.ImapHost = preset.imapHost
	cfg.ImapPort = preset.imapPort
	cfg.SmtpHost = preset.smtpHost
	cfg.SmtpPort = preset.smtpPort
	cfg.Inbox = preset.inbox
	cfg.Trash = preset.trash
	cfg.Drafts = preset.drafts

	if savePass {
		password := prompt(reader, "Password: ")
		store := credentials.NewStore()
		if store.IsKeyringEnabled() {
			if err := store.SetPassword(email, password); err != nil {
				return fmt.Errorf("save password to keyring: %w", err)
			}
		} else {
			cfg.Pass = credentials.EncodeFallback(email, password)
		}
	}

	if err := config.Save(config.MainConfPath(dir), cfg); err != nil {
		return fmt.Errorf("write main.conf: %w", err)
	}

	fmt.Printf("wrote %s\n", config.MainConfPath(dir))
	return nil
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
