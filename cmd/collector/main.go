// Command collector is the administrative CLI around the crawl engine
// core: start/stop/clean a crawler, validate its configuration, and
// export/import its cached reference partition.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/google/uuid"

	appcrawl "github.com/norcore/collector-core/internal/app/crawl"
	"github.com/norcore/collector-core/internal/domain/crawl"
	"github.com/norcore/collector-core/internal/infra/config"
	"github.com/norcore/collector-core/internal/infra/eventbus/memory"
	"github.com/norcore/collector-core/internal/infra/logging"
	"github.com/norcore/collector-core/internal/infra/metrics"
	"github.com/norcore/collector-core/internal/infra/store/filestore"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: collector <start|stop|clean|configcheck|storeexport|storeimport> -c <config> [-variables <file>]")
		os.Exit(2)
	}

	sub := os.Args[1]
	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	configPath := fs.String("c", "", "path to the crawler's YAML configuration file (required)")
	variablesPath := fs.String("variables", "", "path to a KEY=VALUE substitution file applied to the config before parsing")
	exportPath := fs.String("file", "", "path to the store export/import file (storeexport/storeimport only)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "-c <config> is required")
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath, *variablesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, slog.LevelInfo).With("crawler_id", cfg.CrawlerID)

	var runErr error
	switch sub {
	case "configcheck":
		fmt.Printf("configuration for %q is valid\n", cfg.CrawlerID)
	case "start":
		runErr = runStart(cfg, logger)
	case "stop":
		runErr = runStop(cfg, logger)
	case "clean":
		runErr = runClean(cfg, logger)
	case "storeexport":
		runErr = runStoreExport(cfg, *exportPath)
	case "storeimport":
		runErr = runStoreImport(cfg, *exportPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		os.Exit(2)
	}

	if runErr != nil {
		logger.Error(context.Background(), "command failed", "subcommand", sub, "error", runErr)
		os.Exit(1)
	}
}

// loadConfig applies simple ${KEY} substitution from variablesPath (if
// given) to the raw config bytes before delegating to config.FileLoader.
func loadConfig(configPath, variablesPath string) (*config.Config, error) {
	if variablesPath == "" {
		return config.NewFileLoader(configPath).Load()
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	vars, err := os.ReadFile(variablesPath)
	if err != nil {
		return nil, fmt.Errorf("read variables file: %w", err)
	}
	substituted := substituteVariables(string(raw), string(vars))

	tmp, err := os.CreateTemp("", "collector-config-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("stage substituted config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(substituted); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stage substituted config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("stage substituted config: %w", err)
	}
	return config.NewFileLoader(tmp.Name()).Load()
}

// substituteVariables replaces every ${KEY} occurrence in text with
// the value of KEY as defined by a "KEY=VALUE" line in vars. Unknown
// keys are left untouched.
func substituteVariables(text, vars string) string {
	replacements := make([]string, 0)
	for _, line := range strings.Split(vars, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		replacements = append(replacements, "${"+strings.TrimSpace(k)+"}", strings.TrimSpace(v))
	}
	if len(replacements) == 0 {
		return text
	}
	return strings.NewReplacer(replacements...).Replace(text)
}

func openStore(cfg *config.Config) (*filestore.Store, error) {
	return filestore.OpenForCrawler(cfg.WorkDir, appcrawl.SafeCrawlerDir(cfg.CrawlerID))
}

func runStart(cfg *config.Config, logger *logging.Logger) error {
	priorStoreExists, err := storeHasJournal(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	bus := memory.New(func(ev crawl.Event, r any) {
		logger.Error(context.Background(), "event listener panicked", "event", ev.Type, "recovered", r)
	})
	if cfg.EnableEventLog {
		bus.Subscribe(crawl.EventListenerFunc(func(ev crawl.Event) {
			logger.Debug(context.Background(), "event", "type", ev.Type)
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsServer *metrics.Server
	if cfg.EnableMetrics {
		addr := cfg.MetricsAddr
		if addr == "" {
			addr = ":9090"
		}
		metricsServer = metrics.NewServer(addr)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Warn(context.Background(), "metrics server stopped", "error", err)
			}
		}()

		m := metrics.New(sanitizeMetricsNamespace(cfg.CrawlerID))
		subscribeMetrics(bus, m)
		go sampleMetricsUntil(ctx, store, m)
	}

	driver := appcrawl.NewDriver(appcrawl.Config{
		Store:       store,
		SpoilPolicy: cfg.BuildSpoilPolicy(),
		Bus:         bus,
		Logger:      logger,
		IsFatal:     cfg.IsFatal,
		RunID:       runID,
	})

	lc := appcrawl.NewLifecycleController(appcrawl.LifecycleConfig{
		CrawlerID:      cfg.CrawlerID,
		WorkDir:        cfg.WorkDir,
		Workers:        cfg.Workers,
		MaxDocuments:   cfg.MaxDocuments,
		OrphanStrategy: cfg.ParsedOrphanStrategy(),
		Resume:         priorStoreExists,
		RunID:          runID,
		Store:          store,
		Driver:         driver,
		Bus:            bus,
		Logger:         logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info(ctx, "shutdown requested")
		lc.Stop(ctx)
		cancel()
	}()

	err = lc.Run(ctx, nil)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(context.Background())
	}
	return err
}

// storeHasJournal reports whether this crawler already has an on-disk
// store from a prior run, the basis on which "start" decides whether
// to resume in-flight work or seed a fresh run.
func storeHasJournal(cfg *config.Config) (bool, error) {
	dir := filepath.Join(cfg.WorkDir, appcrawl.SafeCrawlerDir(cfg.CrawlerID), "store")
	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat store directory: %w", err)
	}
	return true, nil
}

// sanitizeMetricsNamespace maps a crawler ID to a valid Prometheus
// metric namespace: letters, digits and underscores only.
func sanitizeMetricsNamespace(crawlerID string) string {
	var b strings.Builder
	for _, r := range crawlerID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// cachedCount walks the cached partition to size it; the store exposes
// no direct count, and this runs on a slow polling cadence.
func cachedCount(ctx context.Context, store *filestore.Store) int {
	it, err := store.CachedIterable(ctx)
	if err != nil {
		return 0
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

// subscribeMetrics wires a listener that turns finalize-adjacent
// events into the Processed and spoil-action counters.
func subscribeMetrics(bus *memory.Bus, m *metrics.Metrics) {
	bus.Subscribe(crawl.EventListenerFunc(func(ev crawl.Event) {
		switch ev.Type {
		case crawl.EventDocumentCommittedAdd, crawl.EventRejectedImport, crawl.EventRejectedError:
			m.Processed.Inc()
		case crawl.EventDocumentCommittedRemove:
			m.Processed.Inc()
			m.SpoilDeleted.Inc()
		}
	}))
}

// sampleMetricsUntil polls the store's partition sizes into m at a
// fixed cadence until ctx is done.
func sampleMetricsUntil(ctx context.Context, store *filestore.Store, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, _ := store.QueuedCount(ctx)
			active, _ := store.ActiveCount(ctx)
			cached := cachedCount(ctx, store)
			m.SampleStore(queued, active, cached)
		}
	}
}

func runStop(cfg *config.Config, logger *logging.Logger) error {
	// A separate CLI invocation has no handle on a running process's
	// in-memory Scheduler; stopping a live crawl is done by delivering
	// SIGTERM to the "start" process, which this subcommand exists to
	// document. Here it only verifies the crawler's store is present.
	exists, err := storeHasJournal(cfg)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no store found for crawler %q", cfg.CrawlerID)
	}
	logger.Info(context.Background(), "send SIGTERM to the running start process to stop this crawler")
	return nil
}

func runClean(cfg *config.Config, logger *logging.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	lc := appcrawl.NewLifecycleController(appcrawl.LifecycleConfig{
		CrawlerID: cfg.CrawlerID,
		WorkDir:   cfg.WorkDir,
		Store:     store,
		Driver:    appcrawl.NewDriver(appcrawl.Config{Store: store}),
		Logger:    logger,
	})
	return lc.Clean(context.Background())
}

// exportedReference is the portable, JSON-line record storeexport and
// storeimport exchange.
type exportedReference struct {
	Reference             string            `json:"reference"`
	ParentRootReference   string            `json:"parent_root_reference,omitempty"`
	IsRootParentReference bool              `json:"is_root_parent_reference"`
	State                 string            `json:"state"`
	MetaChecksum          string            `json:"meta_checksum,omitempty"`
	ContentChecksum       string            `json:"content_checksum,omitempty"`
	ContentType           string            `json:"content_type,omitempty"`
	CrawlDate             int64             `json:"crawl_date,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

func runStoreExport(cfg *config.Config, exportPath string) error {
	if exportPath == "" {
		return fmt.Errorf("-file <path> is required")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	it, err := store.CachedIterable(ctx)
	if err != nil {
		return fmt.Errorf("iterate cached partition: %w", err)
	}
	defer it.Close()

	out, err := os.Create(exportPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	count := 0
	for it.Next() {
		ref := it.Reference()
		if err := enc.Encode(toExportedReference(ref)); err != nil {
			return fmt.Errorf("write export record: %w", err)
		}
		count++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate cached partition: %w", err)
	}
	fmt.Printf("exported %d cached references to %s\n", count, exportPath)
	return nil
}

func runStoreImport(cfg *config.Config, importPath string) error {
	if importPath == "" {
		return fmt.Errorf("-file <path> is required")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(importPath)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	dec := json.NewDecoder(f)
	count := 0
	for dec.More() {
		var rec exportedReference
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("read import record: %w", err)
		}
		ref := fromExportedReference(rec)
		if err := store.SeedCached(ctx, ref); err != nil {
			return fmt.Errorf("restore imported reference %q: %w", rec.Reference, err)
		}
		count++
	}
	fmt.Printf("imported %d references into the cached partition for %s\n", count, cfg.CrawlerID)
	return nil
}

func toExportedReference(ref *crawl.Reference) exportedReference {
	return exportedReference{
		Reference:             ref.Reference(),
		ParentRootReference:   ref.ParentRootReference(),
		IsRootParentReference: ref.IsRootParentReference(),
		State:                 string(ref.State()),
		MetaChecksum:          ref.MetaChecksum(),
		ContentChecksum:       ref.ContentChecksum(),
		ContentType:           ref.ContentType(),
		CrawlDate:             ref.CrawlDate(),
		Metadata:              ref.Metadata(),
	}
}

func fromExportedReference(rec exportedReference) *crawl.Reference {
	return crawl.ReconstructReference(
		rec.Reference,
		rec.ParentRootReference,
		rec.IsRootParentReference,
		crawl.State(rec.State),
		rec.MetaChecksum,
		rec.ContentChecksum,
		rec.ContentType,
		rec.CrawlDate,
		rec.Metadata,
	)
}
