// Package commands implements the CLI commands for ankabot.
package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mischamarty/ankabot/internal/browser"
	"github.com/mischamarty/ankabot/internal/classifier"
	"github.com/mischamarty/ankabot/internal/fetch"
	"github.com/mischamarty/ankabot/internal/logger"
	"github.com/mischamarty/ankabot/internal/output"
	"github.com/mischamarty/ankabot/internal/profile"
	"github.com/mischamarty/ankabot/internal/waitfor"
)

var rootCmd = &cobra.Command{
	Use:   "ankabot <url>",
	Short: "Fetch a page over plain HTTP, rendering in a headless browser only when needed",
	Long: `Ankabot retrieves a web page and decides for itself whether plain HTTP
is enough or the page needs a real browser to render. The decision,
timings, final URL and captured artifacts land in a JSON summary.

Examples:
  # Fetch a page; the PDF lands next to you when rendering was needed
  ankabot "https://example.com/article"

  # Force the browser and grab a screenshot too
  ankabot "https://app.example.com" --force-browser --screenshot app.png

  # Wait for a specific element before capturing
  ankabot "https://example.com" --wait-selector "#results" --max-wait-ms 20000

  # Reuse a named session profile with a European identity
  ankabot "https://example.com" --profile shopper --locale de-DE --tz Europe/Berlin`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.ankabot.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	flags := rootCmd.Flags()

	// Fallback control
	flags.Bool("force-http", false, "never launch the browser; network failures become fatal")
	flags.Bool("force-browser", false, "skip the plain HTTP attempt entirely")

	// Artifacts. PDF capture is on by default whenever rendering happens;
	// the optional flag values override the derived output path.
	flags.String("pdf", "", "write a PDF capture (path optional, derived from the URL)")
	flags.Lookup("pdf").NoOptDefVal = "auto"
	flags.Bool("no-pdf", false, "disable the default PDF capture")
	flags.String("screenshot", "", "write a full-page screenshot (path optional)")
	flags.Lookup("screenshot").NoOptDefVal = "auto"
	flags.String("html", "", "write the page HTML (path optional)")
	flags.Lookup("html").NoOptDefVal = "auto"

	// Wait protocol
	flags.Int("max-wait-ms", 12000, "overall rendering deadline in milliseconds")
	flags.String("wait-ready", "complete", "document readyState to await: none, interactive, complete")
	flags.Int("network-idle-ms", 1000, "continuous network quiet required, in milliseconds")
	flags.String("wait-selector", "", "CSS selector that must appear before capture")

	// Session profile
	flags.String("profile", "", `session profile name (default "default")`)
	flags.String("locale", "", "locale override, e.g. de-DE")
	flags.String("tz", "", "timezone override, e.g. Europe/Berlin")
	flags.String("geo", "", "geolocation override as lat,lon")
	flags.String("import-cookies", "", "merge cookies from a JSON file into the profile")
	flags.String("export-cookies", "", "write the post-fetch cookie jar to a JSON file")

	// Transport
	flags.String("user-agent", "", "override the User-Agent header")
	flags.Duration("timeout", 30*time.Second, "plain HTTP request timeout")
	flags.String("max-body-size", "10MB", "plain HTTP body size cap (e.g. 512KB, 10MB)")
	flags.Bool("ignore-robots", false, "do not honor robots.txt on the plain HTTP attempt")

	// Result output
	flags.StringP("output", "o", "", "result file (default: stdout)")
	flags.String("format", "json", "result format: json, yaml")
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".ankabot")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("ANKABOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})

	if len(args) == 0 {
		return cmd.Help()
	}
	targetURL := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req, err := buildRequest(cmd, targetURL)
	if err != nil {
		logger.Error("invalid invocation", "error", err)
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	userAgent, _ := cmd.Flags().GetString("user-agent")

	launcher := browser.NewLauncher(browser.Config{
		UserAgent: userAgent,
		Timeout:   timeout,
	})
	defer func() { _ = launcher.Close() }()

	orch := fetch.New(
		fetch.WithHTTPClient(fetch.NewHTTPFetcher(fetch.HTTPConfig{
			UserAgent:    userAgent,
			Timeout:      timeout,
			MaxBodySize:  req.MaxBodySize,
			IgnoreRobots: req.IgnoreRobots,
		})),
		fetch.WithBrowser(chromeBrowser{launcher}),
		fetch.WithProfileStore(profile.NewStore(viper.GetString("profiles_dir"))),
		fetch.WithThresholds(thresholdsFromConfig()),
	)

	result, err := orch.Run(ctx, *req)
	if err != nil {
		logger.Error("fetch failed", "url", targetURL, "error", err)
		return err
	}

	return writeResult(cmd, result)
}

// buildRequest translates flags into a fetch request.
func buildRequest(cmd *cobra.Command, targetURL string) (*fetch.Request, error) {
	flags := cmd.Flags()

	req := &fetch.Request{URL: targetURL}
	req.Profile, _ = flags.GetString("profile")
	req.Locale, _ = flags.GetString("locale")
	req.Timezone, _ = flags.GetString("tz")
	req.ImportCookies, _ = flags.GetString("import-cookies")
	req.ExportCookies, _ = flags.GetString("export-cookies")
	req.ForceHTTP, _ = flags.GetBool("force-http")
	req.ForceBrowser, _ = flags.GetBool("force-browser")
	req.UserAgent, _ = flags.GetString("user-agent")
	req.Timeout, _ = flags.GetDuration("timeout")
	req.IgnoreRobots, _ = flags.GetBool("ignore-robots")

	if geoStr, _ := flags.GetString("geo"); geoStr != "" {
		geo, err := parseGeo(geoStr)
		if err != nil {
			return nil, err
		}
		req.Geo = geo
	}

	maxBodyStr, _ := flags.GetString("max-body-size")
	if strings.TrimSpace(maxBodyStr) != "" && maxBodyStr != "0" {
		bytes, err := humanize.ParseBytes(maxBodyStr)
		if err != nil {
			return nil, fmt.Errorf("invalid max-body-size %q: %w", maxBodyStr, err)
		}
		req.MaxBodySize = int(bytes)
	}

	wait, err := waitConfig(cmd)
	if err != nil {
		return nil, err
	}
	req.Wait = wait

	outputs, defaultPDF, err := outputPlan(cmd, targetURL)
	if err != nil {
		return nil, err
	}
	req.Outputs = outputs
	req.DefaultPDFPath = defaultPDF

	return req, nil
}

// waitConfig translates the wait flags into a wait protocol configuration.
func waitConfig(cmd *cobra.Command) (waitfor.Config, error) {
	flags := cmd.Flags()

	maxWaitMs, _ := flags.GetInt("max-wait-ms")
	idleMs, _ := flags.GetInt("network-idle-ms")
	selector, _ := flags.GetString("wait-selector")
	readyStr, _ := flags.GetString("wait-ready")

	var ready waitfor.ReadyState
	switch readyStr {
	case "none":
		ready = waitfor.ReadyNone
	case "interactive":
		ready = waitfor.ReadyInteractive
	case "complete", "":
		ready = waitfor.ReadyComplete
	default:
		return waitfor.Config{}, fmt.Errorf("unknown wait-ready value %q (use none, interactive or complete)", readyStr)
	}

	return waitfor.Config{
		MaxWait:     time.Duration(maxWaitMs) * time.Millisecond,
		ReadyState:  ready,
		NetworkIdle: time.Duration(idleMs) * time.Millisecond,
		Selector:    selector,
	}, nil
}

// outputPlan resolves the artifact flags into concrete destinations. PDF
// capture defaults to on for rendered pages unless --no-pdf was given.
func outputPlan(cmd *cobra.Command, targetURL string) (map[fetch.OutputKind]string, string, error) {
	flags := cmd.Flags()
	outputs := map[fetch.OutputKind]string{}

	resolve := func(kind fetch.OutputKind, flagValue string) {
		if flagValue == "auto" {
			outputs[kind] = artifactPath(targetURL, string(kind))
			return
		}
		outputs[kind] = flagValue
	}

	noPDF, _ := flags.GetBool("no-pdf")
	pdfValue, _ := flags.GetString("pdf")
	if flags.Changed("pdf") && noPDF {
		return nil, "", fmt.Errorf("--pdf and --no-pdf are mutually exclusive")
	}
	if flags.Changed("pdf") {
		resolve(fetch.OutputPDF, pdfValue)
	}

	if flags.Changed("screenshot") {
		value, _ := flags.GetString("screenshot")
		resolve(fetch.OutputScreenshot, value)
	}
	if flags.Changed("html") {
		value, _ := flags.GetString("html")
		resolve(fetch.OutputHTML, value)
	}

	defaultPDF := ""
	if !noPDF && !flags.Changed("pdf") {
		defaultPDF = artifactPath(targetURL, "pdf")
	}
	return outputs, defaultPDF, nil
}

// parseGeo parses a "lat,lon" pair.
func parseGeo(value string) (*profile.Geo, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid geo %q (expected lat,lon)", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in %q: %w", value, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in %q: %w", value, err)
	}
	return &profile.Geo{Latitude: lat, Longitude: lon}, nil
}

// artifactPath derives an artifact filename from the target URL.
func artifactPath(targetURL, ext string) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return "page." + ext
	}
	name := u.Host
	if p := strings.Trim(u.Path, "/"); p != "" {
		name += "-" + strings.ReplaceAll(p, "/", "-")
	}
	// Keep the name filesystem friendly.
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	return name + "." + ext
}

// thresholdsFromConfig applies config-file overrides to the classifier.
func thresholdsFromConfig() classifier.Thresholds {
	th := classifier.DefaultThresholds()
	if v := viper.GetInt("classifier.min_content_bytes"); v > 0 {
		th.MinContentBytes = v
	}
	if v := viper.GetFloat64("classifier.min_text_ratio"); v > 0 {
		th.MinTextRatio = v
	}
	return th
}

// writeResult emits the fetch summary to stdout or the requested file. An
// unwritable destination is fatal.
func writeResult(cmd *cobra.Command, result *fetch.Result) error {
	outFile, _ := cmd.Flags().GetString("output")
	formatStr, _ := cmd.Flags().GetString("format")

	dest := os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			logger.Error("cannot write result", "path", outFile, "error", err)
			return fmt.Errorf("open output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		dest = f
	}

	writer, err := output.NewWriter(dest, output.Format(formatStr), output.WithPretty(true))
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	return writer.Write(result)
}

// chromeBrowser adapts the launcher to the orchestrator's browser contract.
type chromeBrowser struct {
	launcher *browser.Launcher
}

func (b chromeBrowser) NewSession(ctx context.Context, prof *profile.Profile) (fetch.Session, error) {
	return b.launcher.NewSession(ctx, prof)
}
