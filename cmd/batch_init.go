package main

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/config"
	"github.com/sells-group/callbatch/internal/exclusion"
	"github.com/sells-group/callbatch/internal/export"
	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/filter"
	"github.com/sells-group/callbatch/internal/ingest"
	"github.com/sells-group/callbatch/internal/ledger"
	"github.com/sells-group/callbatch/internal/notify"
	"github.com/sells-group/callbatch/internal/orchestrate"
	"github.com/sells-group/callbatch/internal/registry"
)

// batchEnv holds the ledger, input resolver and notifiers the batch
// commands share.
type batchEnv struct {
	Ledger   ledger.Ledger
	Resolver *fetcher.Resolver
	Notifier notify.Notifier
	Telegram *notify.Telegram // nil unless a bot token is configured
	Bot      *tgbotapi.BotAPI
}

// Close releases resources held by the environment.
func (be *batchEnv) Close() {
	if be.Ledger != nil {
		_ = be.Ledger.Close()
	}
}

// initBatch validates the config for mode and opens the ledger. Notifiers
// are built only when withNotify is set; otherwise notifications are logged.
func initBatch(ctx context.Context, mode string, withNotify bool) (*batchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	l, err := ledger.New(ctx, ledger.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}

	env := &batchEnv{
		Ledger:   l,
		Resolver: newResolver(cfg.Fetch),
		Notifier: notify.NewLog(),
	}
	if !withNotify {
		return env, nil
	}

	notifiers := notify.Multi{env.Notifier}
	if tc := cfg.Notify.Telegram; tc.Token != "" {
		bot, err := notify.NewTelegramBot(tc.Token)
		if err != nil {
			// The batch still runs without chat updates.
			zap.L().Warn("telegram notifier disabled", zap.Error(err))
		} else {
			env.Bot = bot
			env.Telegram = notify.NewTelegram(bot, notify.TelegramOptions{
				ChatID:      tc.ChatID,
				MaxUploadMB: tc.MaxUploadMB,
				PerSecond:   tc.PerSecond,
			})
			notifiers = append(notifiers, env.Telegram)
		}
	}
	if wc := cfg.Notify.Webhook; wc.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(wc.URL, time.Duration(wc.TimeoutSecs)*time.Second))
	}
	env.Notifier = notifiers
	return env, nil
}

func newResolver(fc config.FetchConfig) *fetcher.Resolver {
	timeout := time.Duration(fc.TimeoutSecs) * time.Second
	return fetcher.NewResolver(fc.TempDir,
		fetcher.HTTPOptions{
			Timeout:           timeout,
			MaxRetries:        fc.MaxRetries,
			RequestsPerSecond: fc.RequestsPerSecond,
		},
		fetcher.FTPOptions{
			Timeout:  timeout,
			User:     fc.FTPUser,
			Password: fc.FTPPassword,
		},
	)
}

func ingestConfig(c *config.Config) ingest.Config {
	return ingest.Config{
		ReportsDir:  c.Ingest.ReportsDir,
		ReportsGlob: c.Ingest.ReportsGlob,
		ReportStore: c.Ingest.ReportStore,
		StatusDir:   c.Ingest.StatusDir,
		StatusGlob:  c.Ingest.StatusGlob,
		StatusStore: c.Ingest.StatusStore,
		Report: ingest.ReportOptions{
			Outcomes: c.Ingest.Outcomes,
			Causes:   c.Ingest.Causes,
			Encoding: c.Ingest.ReportEncoding,
		},
		StatusEncoding: c.Ingest.StatusEncoding,
	}
}

func selectConfig(c *config.Config) filter.SelectConfig {
	sc := c.Selection
	exclusions := make([]exclusion.Source, len(sc.Exclusions))
	for i, ex := range sc.Exclusions {
		exclusions[i] = exclusion.Source{
			Name:      ex.Name,
			Location:  ex.Location,
			Column:    ex.Column,
			Delimiter: ex.Delimiter,
			Sheet:     ex.Sheet,
			Encoding:  ex.Encoding,
		}
	}
	return filter.SelectConfig{
		Registry: registry.Options{
			Location:  sc.Registry.Location,
			Delimiter: fetcher.ParseDelimiter(sc.Registry.Delimiter, ';'),
			Sheet:     sc.Registry.Sheet,
			Encoding:  sc.Registry.Encoding,
		},
		Exclusions:        exclusions,
		StatusStore:       c.Ingest.StatusStore,
		ContactedDir:      sc.ContactedDir,
		ContactedLayout:   sc.ContactedLayout,
		ContactedRequired: sc.ContactedRequired,
		ContactedEncoding: sc.ContactedEncoding,
		RulesFile:         sc.RulesFile,
		Output:            sc.Output,
	}
}

func exportConfig(c *config.Config) export.Config {
	ec := c.Export
	return export.Config{
		Input:     c.Selection.Output,
		OutputDir: ec.OutputDir,
		Lookup: export.LookupConfig{
			Location:  ec.Lookup.Location,
			Delimiter: ec.Lookup.Delimiter,
			Key:       ec.Lookup.Key,
			Value:     ec.Lookup.Value,
			Sheet:     ec.Lookup.Sheet,
			Required:  ec.Lookup.Required,
		},
		MaxPerPerson: ec.MaxPerPerson,
		LabelPrefix:  ec.LabelPrefix,
		Marker:       ec.Marker,
		Seed:         ec.Seed,
	}
}

// chainSteps builds ingest, select and export in order.
func chainSteps(env *batchEnv) []orchestrate.Step {
	return []orchestrate.Step{
		orchestrate.IngestStep(ingest.New(ingestConfig(cfg), env.Ledger)),
		orchestrate.SelectStep(filter.NewSelector(selectConfig(cfg), env.Resolver, nil)),
		orchestrate.ExportStep(export.New(exportConfig(cfg), env.Resolver)),
	}
}
