// Package orchestrator binds every other component into the linear
// phase state machine: scrape → extract → dependencies → capture →
// rebuild. It owns no domain logic of its own beyond sequencing,
// resume, and WAL bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/go-rod/rod"
	"golang.org/x/net/html"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/internal/bundles"
	"github.com/use-agent/reconweb/internal/capture"
	"github.com/use-agent/reconweb/internal/crawl"
	"github.com/use-agent/reconweb/internal/httpclient"
	"github.com/use-agent/reconweb/internal/manifest"
	"github.com/use-agent/reconweb/internal/notify"
	"github.com/use-agent/reconweb/internal/packagejson"
	"github.com/use-agent/reconweb/internal/reconcache"
	"github.com/use-agent/reconweb/internal/reconstruct"
	"github.com/use-agent/reconweb/internal/rewrite"
	"github.com/use-agent/reconweb/internal/rodpage"
	"github.com/use-agent/reconweb/internal/sourcemap"
	"github.com/use-agent/reconweb/internal/versiondetect"
	"github.com/use-agent/reconweb/internal/wal"
	"github.com/use-agent/reconweb/models"
)

// Orchestrator runs the full reconstruction pipeline for one site,
// recording every phase transition to a wal.Store.
type Orchestrator struct {
	cfg       *config.Config
	rootURL   string
	rootHost  string
	outputDir string

	store    *wal.Store
	notifier *notify.Notifier

	client          *httpclient.Client
	cache           *reconcache.Cache
	bundleDiscoverer *bundles.Discoverer
	smDiscoverer    *sourcemap.Discoverer
	extractor       *sourcemap.Extractor
	reconstructor   *reconstruct.Reconstructor
	versionDetector *versiondetect.Detector
	fixtureBuilder  *capture.FixtureBuilder
	assetCapturer   *capture.AssetCapturer

	fixtureMu sync.Mutex // FixtureBuilder.Build mutates an ordinal counter

	urlMapMu sync.Mutex
	urlMap   map[string]string

	browserMu sync.Mutex
	browser   *rod.Browser
}

// New builds an Orchestrator for rootURL, writing reconstructed output
// under outputDir and durable progress to store.
func New(cfg *config.Config, rootURL, outputDir string, store *wal.Store, notifier *notify.Notifier) *Orchestrator {
	rootHost := ""
	if u, err := url.Parse(rootURL); err == nil {
		rootHost = u.Hostname()
	}

	client := httpclient.New(cfg.HTTP)
	cache := reconcache.New(cfg.Cache.Disabled, cfg.Cache.MaxEntries)

	return &Orchestrator{
		cfg:             cfg,
		rootURL:         rootURL,
		rootHost:        rootHost,
		outputDir:       outputDir,
		store:           store,
		notifier:        notifier,
		client:          client,
		cache:           cache,
		bundleDiscoverer: bundles.NewDiscoverer(client, cache),
		smDiscoverer:    sourcemap.NewDiscoverer(client, cache, cfg.Discovery),
		extractor:       sourcemap.NewExtractor(client, cache, cfg.Extract),
		reconstructor:   reconstruct.New(outputDir, cfg.Reconstruct.ManifestFileLimit),
		versionDetector: versiondetect.New(cfg.Version),
		fixtureBuilder:  capture.NewFixtureBuilder(cfg.Capture.APIPatterns),
		assetCapturer:   capture.NewAssetCapturer(outputDir, rootHost, cfg.Crawl.SameSiteSubdomains, cfg.Capture.MaxAssetBytes),
		urlMap:          make(map[string]string),
	}
}

// Close releases the headless browser, if one was launched.
func (o *Orchestrator) Close() error {
	o.browserMu.Lock()
	defer o.browserMu.Unlock()
	if o.browser == nil {
		return nil
	}
	err := o.browser.Close()
	o.browser = nil
	return err
}

// Run drives the full page-mode pipeline: scrape the root page,
// extract every discovered bundle's sources, attribute dependency
// versions, crawl and capture the live site, then emit the
// reconstruction manifests.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.runPhase(ctx, models.PhaseScrape, o.runScrape); err != nil {
		return err
	}
	var extracted []models.ExtractedSource
	if err := o.runPhase(ctx, models.PhaseExtract, func(ctx context.Context) error {
		files, err := o.runExtract(ctx)
		extracted = files
		return err
	}); err != nil {
		return err
	}
	if err := o.runPhase(ctx, models.PhaseDependencies, func(ctx context.Context) error {
		return o.runDependencies(ctx, extracted)
	}); err != nil {
		return err
	}
	if err := o.runPhase(ctx, models.PhaseCapture, o.runCapture); err != nil {
		return err
	}
	if err := o.runPhase(ctx, models.PhaseRebuild, func(ctx context.Context) error {
		return o.runRebuild(ctx, models.ModePage)
	}); err != nil {
		return err
	}
	return nil
}

// RunDirect skips scrape/crawl/capture entirely and extracts a fixed
// set of bundle URLs directly, the "direct" ReconstructionMode a
// single already-known bundle (rather than a whole page) calls for.
func (o *Orchestrator) RunDirect(ctx context.Context, bundleURLs []string) error {
	var extracted []models.ExtractedSource
	if err := o.runPhase(ctx, models.PhaseExtract, func(ctx context.Context) error {
		refs := make([]models.BundleRef, 0, len(bundleURLs))
		for _, u := range bundleURLs {
			refs = append(refs, models.BundleRef{URL: u, Kind: inferKind(u)})
		}
		files, err := o.extractBundles(ctx, refs)
		extracted = files
		return err
	}); err != nil {
		return err
	}
	if err := o.runPhase(ctx, models.PhaseDependencies, func(ctx context.Context) error {
		return o.runDependencies(ctx, extracted)
	}); err != nil {
		return err
	}
	return o.runPhase(ctx, models.PhaseRebuild, func(ctx context.Context) error {
		return o.runRebuild(ctx, models.ModeDirect)
	})
}

func inferKind(bundleURL string) models.BundleKind {
	if strings.Contains(bundleURL, ".css") {
		return models.BundleStylesheet
	}
	return models.BundleScript
}

// runPhase is a no-op for an already-completed phase, records
// phase:start for a pending one (a resumed in-progress phase does not
// re-emit start), runs fn, and records phase:complete or phase:fail.
func (o *Orchestrator) runPhase(ctx context.Context, phase models.PhaseName, fn func(context.Context) error) error {
	state, err := o.store.State()
	if err != nil {
		return fmt.Errorf("orchestrator: load state: %w", err)
	}
	ps := state.Phases[phase]
	if ps != nil && ps.Status == models.PhaseCompleted {
		slog.Info("phase already completed, skipping", "phase", phase)
		return nil
	}
	if ps == nil || ps.Status == models.PhasePending {
		if err := o.store.Append(models.WALEvent{Type: models.EventPhaseStart, Phase: phase}); err != nil {
			return fmt.Errorf("orchestrator: record phase start: %w", err)
		}
	}

	slog.Info("phase starting", "phase", phase)
	if err := fn(ctx); err != nil {
		_ = o.store.Append(models.WALEvent{Type: models.EventPhaseFail, Phase: phase, Error: err.Error()})
		o.notifier.NotifyAsync(notify.Event{Type: "phase.fail", Phase: phase, Error: err.Error()})
		return fmt.Errorf("orchestrator: phase %s: %w", phase, err)
	}

	if err := o.store.Append(models.WALEvent{Type: models.EventPhaseComplete, Phase: phase}); err != nil {
		return fmt.Errorf("orchestrator: record phase complete: %w", err)
	}
	o.notifier.NotifyAsync(notify.Event{Type: "phase.complete", Phase: phase})
	slog.Info("phase completed", "phase", phase)
	return nil
}

// --- scrape ---

func (o *Orchestrator) runScrape(ctx context.Context) error {
	result, err := o.bundleDiscoverer.Discover(ctx, o.rootURL)
	if err != nil {
		return err
	}
	return o.store.Append(models.WALEvent{
		Type:   models.EventScrapeResult,
		Scrape: &models.ScrapeState{Bundles: result.Bundles, Redirect: result.Redirect},
	})
}

// --- extract ---

// runExtract extracts every bundle found during scrape. Already-
// extracted bundles (per the recovered state) are re-run too: the
// fetch cache makes that cheap, and it is the only way to repopulate
// the in-memory ExtractedSource list the dependencies phase needs
// after a process restart, since the durable BundleManifest only
// records relative paths, not content.
func (o *Orchestrator) runExtract(ctx context.Context) ([]models.ExtractedSource, error) {
	state, err := o.store.State()
	if err != nil {
		return nil, err
	}
	if state.Scrape == nil {
		return nil, fmt.Errorf("orchestrator: extract phase entered before scrape recorded a result")
	}
	return o.extractBundles(ctx, state.Scrape.Bundles)
}

func (o *Orchestrator) extractBundles(ctx context.Context, refs []models.BundleRef) ([]models.ExtractedSource, error) {
	state, err := o.store.State()
	if err != nil {
		return nil, err
	}
	alreadyExtracted := map[string]bool{}
	if state.Extract != nil {
		for name := range state.Extract.Bundles {
			alreadyExtracted[name] = true
		}
	}

	type bundleResult struct {
		name  string
		files []models.ExtractedSource
		man   models.BundleManifest
		err   error
	}

	results := runBounded(refs, concurrencyOf(o.cfg.Crawl.Concurrency), func(ref models.BundleRef) bundleResult {
		files, man, err := o.extractOneBundle(ctx, ref)
		return bundleResult{name: bundleNameFromURL(ref.URL), files: files, man: man, err: err}
	})

	var all []models.ExtractedSource
	for _, r := range results {
		if r.err != nil {
			slog.Warn("bundle extraction failed", "error", r.err)
			continue
		}
		all = append(all, r.files...)
		if alreadyExtracted[r.name] {
			continue
		}
		man := r.man
		if err := o.store.Append(models.WALEvent{
			Type:           models.EventExtractBundle,
			BundleName:     r.name,
			BundleManifest: &man,
		}); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// extractOneBundle fetches a bundle, discovers its map, extracts its
// sources, and writes them to disk. A bundle with no discoverable map
// yields (nil, zero-value, nil): not every bundle has one, and that is
// not a failure.
func (o *Orchestrator) extractOneBundle(ctx context.Context, ref models.BundleRef) ([]models.ExtractedSource, models.BundleManifest, error) {
	resp, err := o.client.Get(ctx, ref.URL, 0)
	if err != nil {
		return nil, models.BundleManifest{}, err
	}

	discovery, err := o.smDiscoverer.Discover(ctx, ref.URL, resp.Header, resp.Body, ref.Kind)
	if err != nil {
		return nil, models.BundleManifest{}, err
	}
	if !discovery.Found {
		return nil, models.BundleManifest{}, nil
	}

	result, err := o.extractor.Extract(ctx, ref.URL, discovery.MapURL, func(models.ExtractedSource) {})
	if err != nil {
		return nil, models.BundleManifest{}, err
	}

	name := bundleNameFromURL(ref.URL)
	man, failures := o.reconstructor.WriteBundle(name, ref.URL, discovery.MapURL, result.Files)
	for _, f := range failures {
		slog.Warn("failed to write extracted source", "bundle", name, "detail", f)
	}
	return result.Files, man, nil
}

// bundleNameFromURL derives a filesystem-safe bundle directory name
// from its URL's final path segment.
func bundleNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "bundle"
	}
	base := filepath.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "bundle"
	}
	return base
}

// --- dependencies ---

var rePackageDir = regexp.MustCompile(`node_modules/((?:@[^/]+/)?[^/]+)/`)

// packageNameFromOriginalPath returns the innermost node_modules
// package a source was attributed to, matching the nested-node_modules
// convention versiondetect's own regexes assume.
func packageNameFromOriginalPath(originalPath string) (string, bool) {
	matches := rePackageDir.FindAllStringSubmatch(originalPath, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

func groupByPackage(files []models.ExtractedSource) []models.PackageFiles {
	grouped := map[string][]models.ExtractedSource{}
	for _, f := range files {
		name, ok := packageNameFromOriginalPath(f.OriginalPath)
		if !ok {
			continue
		}
		grouped[name] = append(grouped[name], f)
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.PackageFiles, 0, len(names))
	for _, name := range names {
		out = append(out, models.PackageFiles{Name: name, Files: grouped[name]})
	}
	return out
}

func (o *Orchestrator) runDependencies(ctx context.Context, extracted []models.ExtractedSource) error {
	groups := groupByPackage(extracted)
	entries := make([]packagejson.Entry, 0, len(groups))
	for _, g := range groups {
		result, found := o.versionDetector.Detect(g.Name, g.Files)
		entries = append(entries, packagejson.Entry{Name: g.Name, Result: result, Found: found})
	}
	return packagejson.Write(o.outputDir, packagejson.Build(entries))
}

// --- capture ---

func (o *Orchestrator) ensureBrowser() (*rod.Browser, error) {
	o.browserMu.Lock()
	defer o.browserMu.Unlock()
	if o.browser != nil {
		return o.browser, nil
	}
	b, err := rodpage.LaunchBrowser(o.cfg.HTTP.Proxy)
	if err != nil {
		return nil, err
	}
	o.browser = b
	return b, nil
}

func (o *Orchestrator) runCapture(ctx context.Context) error {
	browser, err := o.ensureBrowser()
	if err != nil {
		return err
	}

	state, err := o.store.State()
	if err != nil {
		return err
	}

	queue := o.resumeQueue(state)

	var fixturesMu sync.Mutex
	var allFixtures []models.ApiFixture
	var allAssets []models.CapturedAsset

	queue.Run(ctx, func(ctx context.Context, item models.CrawlItem) ([]string, error) {
		if err := o.store.Append(models.WALEvent{Type: models.EventCapturePageStarted, URL: item.URL}); err != nil {
			slog.Warn("failed to record capture:page:started", "error", err)
		}

		fixtures, assets, links, err := o.capturePage(ctx, browser, item)
		if err != nil {
			_ = o.store.Append(models.WALEvent{Type: models.EventCapturePageFailed, URL: item.URL, Error: err.Error()})
			return nil, err
		}

		fixturesMu.Lock()
		allFixtures = append(allFixtures, fixtures...)
		allAssets = append(allAssets, assets...)
		fixturesMu.Unlock()

		if err := o.store.Append(models.WALEvent{
			Type:     models.EventCapturePageCompleted,
			URL:      item.URL,
			Fixtures: fixtures,
			Assets:   assets,
		}); err != nil {
			slog.Warn("failed to record capture:page:completed", "error", err)
		}
		if len(links) > 0 {
			_ = o.store.Append(models.WALEvent{
				Type:            models.EventCaptureURLsDiscovered,
				DiscoveredURLs:  links,
				DiscoveredDepth: item.Depth + 1,
			})
		}
		return links, nil
	})

	return nil
}

// resumeQueue rebuilds the crawl frontier from recovered state so a
// restarted capture phase does not re-crawl from the root.
func (o *Orchestrator) resumeQueue(state *models.StateFile) *crawl.Queue {
	if state.Capture == nil || (len(state.Capture.VisitedURLs) == 0 && len(state.Capture.CompletedURLs) == 0) {
		return crawl.New(o.cfg.Crawl, o.rootURL)
	}

	pending := make([]models.CrawlItem, 0, len(state.Capture.PendingURLs)+len(state.Capture.InProgressURLs))
	for _, u := range state.Capture.PendingURLs {
		pending = append(pending, models.CrawlItem{URL: u})
	}
	// In-progress URLs at crash time were never confirmed complete; requeue them.
	for _, u := range state.Capture.InProgressURLs {
		pending = append(pending, models.CrawlItem{URL: u})
	}
	return crawl.NewResumed(o.cfg.Crawl, o.rootURL, pending, state.Capture.VisitedURLs, state.Capture.CompletedURLs)
}

// capturePage loads one page in a fresh browser tab, records every
// intercepted exchange as a fixture or asset, rewrites the page's own
// captured HTML (and any captured stylesheets) against the URL map
// accumulated so far, and returns every a[href] link in the rendered
// DOM, resolved against the page URL; the crawl queue drops the ones
// that are not same-site.
func (o *Orchestrator) capturePage(ctx context.Context, browser *rod.Browser, item models.CrawlItem) ([]models.ApiFixture, []models.CapturedAsset, []string, error) {
	page, err := rodpage.NewPage(browser, o.cfg.Crawl.Stealth)
	if err != nil {
		return nil, nil, nil, err
	}
	page = page.Context(ctx)
	defer page.Close()

	var exchangesMu sync.Mutex
	var exchanges []rodpage.Exchange
	seenDocument := false

	router := rodpage.Install(page, item.URL, func(ex rodpage.Exchange) {
		exchangesMu.Lock()
		defer exchangesMu.Unlock()
		exchanges = append(exchanges, ex)
	})
	defer func() { _ = router.Stop() }()

	if err := page.Navigate(item.URL); err != nil {
		return nil, nil, nil, fmt.Errorf("orchestrator: navigate %s: %w", item.URL, err)
	}
	// WaitRequestIdle shares the Fetch domain with HijackRequests, so a
	// DOM-stability wait is used instead of a network-idle one.
	if err := page.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "url", item.URL, "error", err)
	}

	renderedHTML, err := page.HTML()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("orchestrator: read rendered DOM %s: %w", item.URL, err)
	}

	base, err := url.Parse(item.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("orchestrator: parse page url: %w", err)
	}

	var fixtures []models.ApiFixture
	var assets []models.CapturedAsset

	exchangesMu.Lock()
	snapshot := append([]rodpage.Exchange(nil), exchanges...)
	exchangesMu.Unlock()

	for _, ex := range snapshot {
		isEntrypoint := ex.ResourceType == "Document" && !seenDocument
		if isEntrypoint {
			seenDocument = true
		}

		o.fixtureMu.Lock()
		fx, ok := o.fixtureBuilder.Build(ex, o.cfg.Capture.ResponseHeaderAllowlist)
		o.fixtureMu.Unlock()
		if ok {
			fixtures = append(fixtures, fx)
			continue
		}

		asset, ok := o.assetCapturer.Capture(ex, isEntrypoint)
		if !ok {
			continue
		}
		assets = append(assets, asset)

		o.urlMapMu.Lock()
		o.urlMap[asset.URL] = asset.LocalPath
		o.urlMapMu.Unlock()

		if ex.ResourceType == "Document" || ex.ResourceType == "Stylesheet" {
			o.rewriteCapturedAsset(ex, asset)
		}
	}

	links := o.discoverLinks(renderedHTML, base)
	return fixtures, assets, links, nil
}

// rewriteCapturedAsset rewrites an already-written HTML/CSS asset in
// place against the URL map accumulated so far. Because capture runs
// breadth-first, later pages see a more complete map than earlier
// ones; URLs not yet mapped are left untouched.
func (o *Orchestrator) rewriteCapturedAsset(ex rodpage.Exchange, asset models.CapturedAsset) {
	base, err := url.Parse(ex.URL)
	if err != nil {
		return
	}

	o.urlMapMu.Lock()
	snapshot := make(map[string]string, len(o.urlMap))
	for k, v := range o.urlMap {
		snapshot[k] = v
	}
	o.urlMapMu.Unlock()

	var rewritten []byte
	switch ex.ResourceType {
	case "Document":
		rewritten = rewrite.RewriteHTML(ex.ResponseBody, base, snapshot)
	case "Stylesheet":
		rewritten = rewrite.RewriteCSS(ex.ResponseBody, base, snapshot)
	default:
		return
	}

	dest := filepath.Join(o.outputDir, filepath.FromSlash(strings.TrimPrefix(asset.LocalPath, "/")))
	if err := writeAtomic(dest, rewritten); err != nil {
		slog.Warn("failed to rewrite captured asset", "url", ex.URL, "error", err)
	}
}

var aHrefSelector = cascadia.MustCompile("a[href]")

// discoverLinks extracts same-document anchor targets from the
// rendered DOM, resolved to absolute URLs against base.
func (o *Orchestrator) discoverLinks(body string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	for _, n := range aHrefSelector.MatchAll(doc) {
		for _, attr := range n.Attr {
			if attr.Key != "href" {
				continue
			}
			resolved, err := base.Parse(attr.Val)
			if err != nil {
				continue
			}
			links = append(links, resolved.String())
		}
	}
	return links
}

func writeAtomic(dest string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// --- rebuild ---

func (o *Orchestrator) runRebuild(ctx context.Context, mode models.ReconstructionMode) error {
	state, err := o.store.State()
	if err != nil {
		return err
	}

	var bundleManifests []models.BundleManifest
	if state.Extract != nil {
		names := make([]string, 0, len(state.Extract.Bundles))
		for name := range state.Extract.Bundles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			bundleManifests = append(bundleManifests, state.Extract.Bundles[name])
		}
	}

	extractedAt := state.LastUpdatedAt
	if err := manifest.WriteRoot(o.outputDir, o.rootURL, mode, bundleManifests, extractedAt); err != nil {
		return o.recordRebuildFailure(err)
	}

	if mode == models.ModePage && state.Capture != nil {
		fixtures := make([]models.ApiFixture, 0, len(state.Capture.Fixtures))
		for _, fx := range state.Capture.Fixtures {
			fixtures = append(fixtures, fx)
		}
		assets := make([]models.CapturedAsset, 0, len(state.Capture.Assets))
		entrypoint := ""
		for _, a := range state.Capture.Assets {
			assets = append(assets, a)
			if a.IsEntrypoint {
				entrypoint = a.LocalPath
			}
		}

		opts := manifest.ServerOptions{
			Name:          o.rootHost,
			DefaultPort:   4578,
			CORS:          true,
			StaticEnabled: true,
			Entrypoint:    entrypoint,
		}
		if err := manifest.WriteServer(o.outputDir, o.rootURL, extractedAt, opts, fixtures, assets, nil); err != nil {
			return o.recordRebuildFailure(err)
		}
	}

	return o.store.Append(models.WALEvent{
		Type:    models.EventRebuildResult,
		Rebuild: &models.RebuildResult{Success: true, Message: "manifests written"},
	})
}

func (o *Orchestrator) recordRebuildFailure(cause error) error {
	_ = o.store.Append(models.WALEvent{
		Type:    models.EventRebuildResult,
		Rebuild: &models.RebuildResult{Success: false, Message: cause.Error()},
	})
	return cause
}

// --- small bounded worker-pool helper ---

func concurrencyOf(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

// runBounded runs fn over items with at most concurrency in flight at
// once, preserving each result's position so callers can still reason
// about per-item outcomes after the fact.
func runBounded[T any, R any](items []T, concurrency int, fn func(T) R) []R {
	results := make([]R, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(item)
		}(i, item)
	}
	wg.Wait()
	return results
}
