package main

import (
	"chatvault/accounting"
	"chatvault/archive"
	"chatvault/config"
	"chatvault/crawl"
	"chatvault/db"
	"chatvault/db/repository"
	"chatvault/db/service"
	"chatvault/platform"
	"chatvault/retry"
)

// deps holds everything a command needs, wired from config.
type deps struct {
	database   *db.Database
	client     *platform.Client
	crawler    *crawl.Crawler
	archiver   *archive.Archiver
	aggregator *accounting.Aggregator
	decay      *accounting.DecayEngine
	ledger     *service.LedgerService
	balances   *service.BalanceService
	archiveSvc *service.ArchiveService
}

func buildDeps(cfg *config.Config) (*deps, error) {
	database, err := db.NewDatabase(cfg.Options.SaveLocation)
	if err != nil {
		return nil, err
	}

	writePolicy := retry.Policy{
		MaxAttempts: cfg.Options.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
	}

	archiveSvc := service.NewArchiveService(repository.NewArchiveRepository(database.DB), writePolicy)
	ledger := service.NewLedgerService(repository.NewFactRepository(database.DB), writePolicy)
	balances := service.NewBalanceService(repository.NewBalanceRepository(database.DB), writePolicy)

	store, err := archive.NewStore(cfg.Options.SaveLocation)
	if err != nil {
		database.Close()
		return nil, err
	}
	dedupe, err := archive.NewDeduplicator(archiveSvc, 0)
	if err != nil {
		database.Close()
		return nil, err
	}

	client := platform.NewClient(cfg)
	crawler := crawl.NewCrawler(client, cfg.Options.MediaExtensions,
		crawl.WithPageSize(cfg.Options.PageSize),
		crawl.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Options.MaxRetries,
			BackoffBase: cfg.BackoffBase(),
			BackoffCap:  cfg.BackoffCap(),
			Retryable:   func(err error) bool { return !platform.IsPermanent(err) },
		}),
	)

	archiver := archive.NewArchiver(cfg, crawler, store, dedupe, archiveSvc, ledger, client)
	aggregator := accounting.NewAggregator(cfg, ledger, balances)
	decay := accounting.NewDecayEngine(cfg, balances, aggregator)

	return &deps{
		database:   database,
		client:     client,
		crawler:    crawler,
		archiver:   archiver,
		aggregator: aggregator,
		decay:      decay,
		ledger:     ledger,
		balances:   balances,
		archiveSvc: archiveSvc,
	}, nil
}

func (d *deps) Close() {
	if d.database != nil {
		d.database.Close()
	}
}
