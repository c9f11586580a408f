package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dusong7/nmail-go/internal/cache"
	"github.com/dusong7/nmail-go/internal/config"
	"github.com/dusong7/nmail-go/internal/credentials"
	"github.com/dusong7/nmail-go/internal/crypto"
	"github.com/dusong7/nmail-go/internal/imap"
	"github.com/dusong7/nmail-go/internal/imapworker"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/dusong7/nmail-go/internal/notification"
	"github.com/dusong7/nmail-go/internal/platform"
	"github.com/dusong7/nmail-go/internal/prefetch"
	"github.com/dusong7/nmail-go/internal/smtp"
	"github.com/dusong7/nmail-go/internal/smtpworker"
)

func runCore(ctx context.Context, dir string, verbose, offline bool) error {
	appCtx, err := config.Load(dir, offline)
	if err != nil {
		return fmt.Errorf("load application directory: %w", err)
	}

	if err := logging.Init(config.LogPath(dir), verbose || appCtx.Config.VerboseLogging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	appCtx.Log = logging.WithComponent("main")

	lock, err := platform.AcquireLock(config.LockPath(dir))
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := appCtx.InitTempDir(); err != nil {
		return fmt.Errorf("init temp dir: %w", err)
	}
	defer appCtx.CleanupTempDir()

	password, err := resolvePassword(appCtx.Config)
	if err != nil {
		return fmt.Errorf("resolve account password: %w", err)
	}

	var envelope *crypto.Envelope
	if appCtx.Config.CacheEncrypt {
		envelope = crypto.NewEnvelope([]byte(password))
	}
	store, err := cache.New(filepath.Join(dir, "cache"), appCtx.Config.CacheEncrypt, envelope)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	imapCfg := imap.DefaultConfig()
	imapCfg.Host = appCtx.Config.ImapHost
	imapCfg.Port = appCtx.Config.ImapPort
	imapCfg.Username = appCtx.Config.User
	imapCfg.Password = password

	notifSink := notification.NewSink(notification.New())

	imapCfg2 := imapworker.DefaultConfig()
	imapCfg2.Client = imapCfg
	imapCfg2.Online = !offline
	if appCtx.Config.Inbox != "" {
		imapCfg2.InboxFolder = appCtx.Config.Inbox
	}

	imapW := imapworker.New(store, imapCfg2,
		func(imapworker.Response) {},
		func(imapworker.Result) {},
		notifSink.OnStatusUpdate,
	)
	imapW.Start()
	defer func() {
		imapW.SubmitAction(imapworker.Action{Kind: imapworker.LogoutAndExit})
		imapW.Wait()
	}()

	smtpCfg := smtp.DefaultConfig()
	smtpCfg.Host = appCtx.Config.SmtpHost
	smtpCfg.Port = appCtx.Config.SmtpPort
	smtpCfg.Username = appCtx.Config.User
	smtpCfg.Password = password
	if smtpCfg.Port == 465 {
		smtpCfg.Security = smtp.SecurityTLS // implicit TLS, distinct from 587's STARTTLS
	}

	smtpW := smtpworker.New(smtpworker.Config{
		Client:      smtpCfg,
		SentFolder:  appCtx.Config.Sent,
		AppendDraft: imapW,
	}, func(smtpworker.SmtpResult) {})
	smtpW.Start()
	defer smtpW.Stop()

	planner := prefetch.New(imapW, prefetch.Level(appCtx.Config.PrefetchLevel))
	planner.SetOnline(!offline)
	planner.OnStateChange(prefetch.State{Folder: appCtx.Config.Inbox})

	appCtx.Log.Info().Str("dir", dir).Bool("offline", offline).Msg("nmail core started")

	<-ctx.Done()
	appCtx.Log.Info().Msg("shutting down")
	return nil
}

func resolvePassword(cfg config.Config) (string, error) {
	if cfg.User == "" {
		return "", fmt.Errorf("no account configured, run with --setup")
	}

	store := credentials.NewStore()
	if store.IsKeyringEnabled() {
		if pw, err := store.GetPassword(cfg.User); err == nil {
			return pw, nil
		}
	}
	if cfg.Pass != "" {
		return credentials.DecodeFallback(cfg.User, cfg.Pass)
	}
	return "", fmt.Errorf("no stored password found for %s", cfg.User)
}
