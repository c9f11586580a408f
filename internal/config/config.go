// Package config parses main.conf/ui.conf — flat key=value files — and
// assembles the AppContext from which startup configures each subsystem
// (spec §9: no process-wide statics).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dusong7/nmail-go/internal/htmlconvert"
)

// Config holds the main.conf keys documented in spec §6, with their
// defaults applied.
type Config struct {
	Name    string
	Address string
	User    string
	Pass    string // hex-encoded ciphertext, see save_pass

	ImapHost string
	ImapPort int
	SmtpHost string
	SmtpPort int

	SavePass bool

	Inbox  string
	Trash  string
	Drafts string
	Sent   string

	CacheEncrypt bool
	PrefetchLevel int

	HtmlConvertCmd string
	ExtViewerCmd   string

	VerboseLogging bool
}

// Defaults returns a Config with every spec §6 default applied.
func Defaults() Config {
	return Config{
		ImapPort:      993,
		SmtpPort:      465,
		Inbox:         "INBOX",
		CacheEncrypt:  true,
		PrefetchLevel: 2,
	}
}

// LoadMainConf reads a key=value file at path into a copy of base,
// applying overrides line by line. Missing file is not an error:
// LoadMainConf returns base unchanged (first run has no config yet).
func LoadMainConf(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := base
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		applyKey(&cfg, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func applyKey(cfg *Config, key, value string) {
	switch key {
	case "name":
		cfg.Name = value
	case "address":
		cfg.Address = value
	case "user":
		cfg.User = value
	case "pass":
		cfg.Pass = value
	case "imap_host":
		cfg.ImapHost = value
	case "imap_port":
		cfg.ImapPort = atoiOr(value, cfg.ImapPort)
	case "smtp_host":
		cfg.SmtpHost = value
	case "smtp_port":
		cfg.SmtpPort = atoiOr(value, cfg.SmtpPort)
	case "save_pass":
		cfg.SavePass = value == "1"
	case "inbox":
		cfg.Inbox = value
	case "trash":
		cfg.Trash = value
	case "drafts":
		cfg.Drafts = value
	case "sent":
		cfg.Sent = value
	case "cache_encrypt":
		cfg.CacheEncrypt = value == "1"
	case "prefetch_level":
		cfg.PrefetchLevel = atoiOr(value, cfg.PrefetchLevel)
	case "html_convert_cmd":
		cfg.HtmlConvertCmd = value
	case "ext_viewer_cmd":
		cfg.ExtViewerCmd = value
	case "verbose_logging":
		cfg.VerboseLogging = value == "1"
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Save writes cfg to path in the same key=value format Load reads,
// overwriting any existing file.
func Save(path string, cfg Config) error {
	var b strings.Builder
	write := func(key, value string) { fmt.Fprintf(&b, "%s=%s\n", key, value) }

	write("name", cfg.Name)
	write("address", cfg.Address)
	write("user", cfg.User)
	write("pass", cfg.Pass)
	write("imap_host", cfg.ImapHost)
	write("imap_port", strconv.Itoa(cfg.ImapPort))
	write("smtp_host", cfg.SmtpHost)
	write("smtp_port", strconv.Itoa(cfg.SmtpPort))
	write("save_pass", boolStr(cfg.SavePass))
	write("inbox", cfg.Inbox)
	write("trash", cfg.Trash)
	write("drafts", cfg.Drafts)
	write("sent", cfg.Sent)
	write("cache_encrypt", boolStr(cfg.CacheEncrypt))
	write("prefetch_level", strconv.Itoa(cfg.PrefetchLevel))
	write("html_convert_cmd", cfg.HtmlConvertCmd)
	write("ext_viewer_cmd", cfg.ExtViewerCmd)
	write("verbose_logging", boolStr(cfg.VerboseLogging))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ResolveHtmlConvertCmd fills in the auto-detected lynx/elinks/links
// command when cfg.HtmlConvertCmd is empty, per spec §6.
func ResolveHtmlConvertCmd(cfg Config) string {
	if cfg.HtmlConvertCmd != "" {
		return cfg.HtmlConvertCmd
	}
	return htmlconvert.DefaultConvertCmd()
}
