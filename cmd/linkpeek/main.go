package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"net/url"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkpeek/linkpeek/pkg/cache"
	"github.com/linkpeek/linkpeek/pkg/config"
	"github.com/linkpeek/linkpeek/pkg/expand"
	"github.com/linkpeek/linkpeek/pkg/orchestrate"
	"github.com/linkpeek/linkpeek/pkg/uri"
	"github.com/linkpeek/linkpeek/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "resolve":
		runResolve(os.Args[2:])
	case "expand":
		runExpand(os.Args[2:])
	case "shorten":
		runShorten(os.Args[2:])
	case "rules":
		runRules(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("linkpeek %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `linkpeek - Link thumbnail resolver and short URL expander

Usage:
  linkpeek <command> [options]

Commands:
  resolve     Resolve page URLs to thumbnail images
  expand      Expand a short URL one hop
  shorten     Shorten a URL
  rules       List thumbnail rules in match order
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'linkpeek <command> -h' for command-specific help.`)
}

// loadConfig loads the config file and applies defaults.
// An empty path yields the default configuration.
func loadConfig(path string) (*config.AppConfig, []string, error) {
	cfg := &config.AppConfig{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// setupLogger builds the CLI logger. Output goes to w so stdout stays clean for results.
func setupLogger(logLevel string, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}
	log.SetLevel(level)
	return log, nil
}

// newEngine loads config, builds the logger and wires an Engine.
// The caller must call Shutdown on the returned engine.
func newEngine(configPath, logLevel string, stderr io.Writer) (*orchestrate.Engine, *logrus.Logger, error) {
	log, err := setupLogger(logLevel, stderr)
	if err != nil {
		return nil, nil, err
	}
	appCfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	engine, err := orchestrate.NewEngine(appCfg, log.WithField("component", "engine"))
	if err != nil {
		return nil, nil, err
	}
	return engine, log, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// urlList collects repeated -url flags
type urlList []string

func (l *urlList) String() string { return strings.Join(*l, ",") }

func (l *urlList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// runResolve handles the resolve subcommand
func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	var urls urlList
	fs.Var(&urls, "url", "Page URL to resolve (repeatable)")
	configFile := fs.String("config", "", "Path to config file (defaults apply when empty)")
	parallel := fs.Int("parallel", 4, "Maximum concurrent resolutions")
	outDir := fs.String("out", "", "Copy downloaded thumbnails into this directory (they are deleted on exit otherwise)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linkpeek resolve -url URL [URL...]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  linkpeek resolve -url https://youtu.be/dQw4w9WgXcQ\n")
		fmt.Fprintf(os.Stderr, "  linkpeek resolve -out ./thumbs -url http://p.tl/i/123 http://yfrog.com/ab\n")
		fmt.Fprintf(os.Stderr, "\nDownloaded thumbnails (file:// results) are removed when the command exits\n")
		fmt.Fprintf(os.Stderr, "unless -out is given; the printed URI then points into -out.\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	urls = append(urls, fs.Args()...)
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one -url is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doResolve(*configFile, *logLevel, urls, *parallel, *outDir, os.Stdout, os.Stderr))
}

// doResolve resolves sources and prints "source<TAB>display" per hit.
// With outDir set, downloaded thumbnails are copied there before the engine
// removes its own copies. Returns exit code (0 = at least one resolved, 1 = none or error).
func doResolve(configPath, logLevel string, sources []string, parallel int, outDir string, stdout, stderr io.Writer) int {
	engine, log, err := newEngine(configPath, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	// Downloaded thumbnails are removed on shutdown, so print first
	defer engine.Shutdown()

	ctx, cancel := signalContext(log)
	defer cancel()

	found := 0
	for _, r := range engine.ResolveAll(ctx, sources, parallel) {
		if !r.Found {
			fmt.Fprintf(stderr, "no thumbnail: %s\n", r.Source)
			continue
		}
		display := r.Thumbnail.Display
		if outDir != "" {
			kept, err := persist(display, outDir)
			if err != nil {
				log.WithField("error_type", utils.CategorizeError(err)).Errorf("Keeping thumbnail for %s: %v", r.Source, err)
				continue
			}
			display = kept
		}
		found++
		fmt.Fprintf(stdout, "%s\t%s\n", r.Thumbnail.Source, display)
	}
	if found == 0 {
		return 1
	}
	return 0
}

// persist copies the local file behind a file:// display into dir and returns
// the URI of the copy. Remote displays are returned unchanged.
func persist(display, dir string) (string, error) {
	u, err := url.Parse(display)
	if err != nil || u.Scheme != "file" {
		return display, nil
	}
	src := filepath.FromSlash(u.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: opening '%s': %w", utils.ErrFilesystem, src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("%w: copying to '%s': %w", utils.ErrFilesystem, dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, dest, err)
	}
	return cache.FileURI(dest), nil
}

// runExpand handles the expand subcommand
func runExpand(args []string) {
	fs := flag.NewFlagSet("expand", flag.ExitOnError)
	rawURL := fs.String("url", "", "Short URL to expand (required)")
	configFile := fs.String("config", "", "Path to config file (defaults apply when empty)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linkpeek expand -url URL\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rawURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doExpand(*configFile, *logLevel, *rawURL, os.Stdout, os.Stderr))
}

// doExpand prints the one-hop target of a short URL.
// Returns exit code (0 = expanded, 1 = not short, absent or error).
func doExpand(configPath, logLevel, rawURL string, stdout, stderr io.Writer) int {
	u, err := uri.Parse(rawURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid URL '%s': %v\n", rawURL, err)
		return 1
	}
	if !expand.IsShort(u) {
		fmt.Fprintf(stderr, "Error: %s is not a known short URL host\n", u.Host())
		return 1
	}

	engine, log, err := newEngine(configPath, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Shutdown()

	ctx, cancel := signalContext(log)
	defer cancel()

	target, ok := engine.Expander().Expand(ctx, u)
	if !ok {
		fmt.Fprintf(stderr, "no expansion: %s\n", u)
		return 1
	}
	fmt.Fprintln(stdout, target)
	return 0
}

// runShorten handles the shorten subcommand
func runShorten(args []string) {
	fs := flag.NewFlagSet("shorten", flag.ExitOnError)
	rawURL := fs.String("url", "", "URL to shorten (required)")
	provider := fs.String("provider", "", "Shortener (tinyurl, googl, bitly); config default when empty")
	configFile := fs.String("config", "", "Path to config file (defaults apply when empty)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linkpeek shorten -url URL [-provider NAME]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rawURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doShorten(*configFile, *logLevel, *rawURL, *provider, os.Stdout, os.Stderr))
}

// doShorten prints the short form of rawURL.
// Returns exit code (0 = success, 1 = error).
func doShorten(configPath, logLevel, rawURL, provider string, stdout, stderr io.Writer) int {
	u, err := uri.Parse(rawURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid URL '%s': %v\n", rawURL, err)
		return 1
	}

	engine, log, err := newEngine(configPath, logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Shutdown()

	if provider == "" {
		provider = engine.Config().Shorteners.Default
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	short, err := engine.Shorteners().Shorten(ctx, provider, u)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, short)
	return 0
}

// runRules handles the rules subcommand
func runRules(args []string) {
	fs := flag.NewFlagSet("rules", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linkpeek rules\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doRules(os.Stdout, os.Stderr))
}

// doRules lists registered rules in match order
func doRules(stdout, stderr io.Writer) int {
	engine, _, err := newEngine("", "error", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer engine.Shutdown()

	names := engine.Rules().Names()
	for i, name := range names {
		fmt.Fprintf(stdout, "%2d  %s\n", i+1, name)
	}
	fmt.Fprintf(stdout, "\nTotal: %d rule(s)\n", len(names))
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: linkpeek validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: store=%s shortener=%s scrape_timeout=%v expand_timeout=%v\n",
		appCfg.ExpansionStore.Backend, appCfg.Shorteners.Default,
		appCfg.ScrapeTimeout.Round(time.Millisecond), appCfg.ExpandTimeout.Round(time.Millisecond))
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
