package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"inventory-guardian/guardian"
)

const defaultAdminAddr = "127.0.0.1:8000"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "load":
		os.Exit(runLoad(args))
	case "status":
		os.Exit(runStatus(args))
	case "reset", "disable", "enable":
		os.Exit(runTransition(cmd, args))
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fail("InvalidArguments", "unknown command %q", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: inventory-guardian <command> [flags]

commands:
  serve    run the webhook listener
  load     load a Matrixify/Excelify inventory CSV into a running guardian
  status   show controller and snapshot state
  reset    re-arm a tripped controller
  disable  block all trips
  enable   unblock trips

`)
}

func fail(kind string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: %s: %s\n", kind, fmt.Sprintf(format, args...))
}

func failErr(err error) {
	msg := err.Error()
	if kind, detail, ok := strings.Cut(msg, ": "); ok {
		fmt.Fprintf(os.Stderr, "ERROR: %s: %s\n", kind, detail)
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var configPath string
	var bind string
	var secret string
	var globalBuffer int64
	var window int
	var threshold int
	var maxEntries int
	var locale string
	var syslogAddr string
	var service string
	var auditDB string
	var handlerTimeout time.Duration
	var debug bool

	fs.StringVar(&configPath, "config", "", "YAML config file path.")
	fs.StringVar(&bind, "bind", ":8000", "Listen address.")
	fs.StringVar(&secret, "secret", "", "Webhook shared secret. Prefer SHOPIFY_WEBHOOK_SECRET.")
	fs.Int64Var(&globalBuffer, "global-buffer", 50, "Global safety buffer (per-SKU overrides via config file).")
	fs.IntVar(&window, "window", 60, "Velocity window in seconds.")
	fs.IntVar(&threshold, "threshold", 5, "Velocity trip threshold (orders per window).")
	fs.IntVar(&maxEntries, "max-window-entries", 10000, "Hard cap on velocity window entries.")
	fs.StringVar(&locale, "locale", "US", "Locale for CSV number parsing.")
	fs.StringVar(&syslogAddr, "syslog-addr", "", "Syslog notifier address (tcp). Empty logs alerts locally.")
	fs.StringVar(&service, "service", "inventory-guardian", "Syslog structured-data service label.")
	fs.StringVar(&auditDB, "audit-db", "", "SQLite audit ledger path. Empty disables the ledger.")
	fs.DurationVar(&handlerTimeout, "handler-timeout", 10*time.Second, "Per-request deadline.")
	fs.BoolVar(&debug, "debug", false, "Enable debug logs.")
	_ = fs.Parse(args)

	visited := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { visited[f.Name] = true })

	// Base config from file (optional)
	fileCfg := &guardian.FileConfig{}
	if configPath != "" {
		cfg, err := guardian.LoadConfig(configPath)
		if err != nil {
			fail("InvalidArguments", "load config: %v", err)
			return 2
		}
		fileCfg = cfg
	}

	// Merge config file + env + CLI overrides.
	finalBind := fileCfg.Bind
	if finalBind == "" {
		finalBind = ":8000"
	}
	if visited["bind"] {
		finalBind = bind
	}

	finalBuffer := int64(50)
	if fileCfg.GlobalBuffer != nil {
		finalBuffer = *fileCfg.GlobalBuffer
	}
	if v, ok, err := envInt64("GUARDIAN_GLOBAL_BUFFER"); err != nil {
		fail("InvalidArguments", "%v", err)
		return 2
	} else if ok {
		finalBuffer = v
	}
	if visited["global-buffer"] {
		finalBuffer = globalBuffer
	}

	finalWindow := 60
	if fileCfg.WindowSeconds != nil {
		finalWindow = *fileCfg.WindowSeconds
	}
	if v, ok, err := envInt64("GUARDIAN_WINDOW_SECONDS"); err != nil {
		fail("InvalidArguments", "%v", err)
		return 2
	} else if ok {
		finalWindow = int(v)
	}
	if visited["window"] {
		finalWindow = window
	}

	finalThreshold := 5
	if fileCfg.ThresholdCount != nil {
		finalThreshold = *fileCfg.ThresholdCount
	}
	if v, ok, err := envInt64("GUARDIAN_THRESHOLD_COUNT"); err != nil {
		fail("InvalidArguments", "%v", err)
		return 2
	} else if ok {
		finalThreshold = int(v)
	}
	if visited["threshold"] {
		finalThreshold = threshold
	}

	finalMaxEntries := 10000
	if fileCfg.MaxWindowEntries != nil {
		finalMaxEntries = *fileCfg.MaxWindowEntries
	}
	if visited["max-window-entries"] {
		finalMaxEntries = maxEntries
	}

	finalLocale := fileCfg.Locale
	if finalLocale == "" {
		finalLocale = "US"
	}
	if v := os.Getenv("GUARDIAN_LOCALE"); v != "" {
		finalLocale = v
	}
	if visited["locale"] {
		finalLocale = locale
	}

	finalSyslog := fileCfg.SyslogAddr
	if visited["syslog-addr"] {
		finalSyslog = syslogAddr
	}
	finalService := fileCfg.Service
	if finalService == "" {
		finalService = "inventory-guardian"
	}
	if visited["service"] {
		finalService = service
	}
	finalAuditDB := fileCfg.AuditDB
	if visited["audit-db"] {
		finalAuditDB = auditDB
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}
	finalHandlerTimeout := handlerTimeout
	if fileCfg.HandlerTimeoutSeconds != nil && !visited["handler-timeout"] {
		finalHandlerTimeout = time.Duration(*fileCfg.HandlerTimeoutSeconds) * time.Second
	}
	notifyTimeout := 5 * time.Second
	if fileCfg.NotifyTimeoutSeconds != nil {
		notifyTimeout = time.Duration(*fileCfg.NotifyTimeoutSeconds) * time.Second
	}

	finalSecret := os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	if visited["secret"] {
		finalSecret = secret
	}
	if strings.TrimSpace(finalSecret) == "" {
		fail("InvalidArguments", "missing webhook secret (use --secret or SHOPIFY_WEBHOOK_SECRET)")
		return 2
	}

	var notifier guardian.Notifier = guardian.LogNotifier{}
	if finalSyslog != "" {
		notifier = guardian.NewSyslogNotifier(finalSyslog, finalService)
	}

	g, err := guardian.NewGuard(guardian.GuardConfig{
		GlobalBuffer:     finalBuffer,
		BufferOverrides:  fileCfg.Buffers,
		WindowSeconds:    finalWindow,
		ThresholdCount:   finalThreshold,
		MaxWindowEntries: finalMaxEntries,
		Locale:           finalLocale,
		NotifyTimeout:    notifyTimeout,
		AuditDBPath:      finalAuditDB,
		Debug:            finalDebug,
	}, notifier)
	if err != nil {
		fail("Internal", "init guard: %v", err)
		return 1
	}
	defer g.Close()

	app := guardian.NewServer(g, guardian.ServerConfig{
		Secret:         finalSecret,
		HandlerTimeout: finalHandlerTimeout,
	})

	ln, err := net.Listen("tcp", finalBind)
	if err != nil {
		if strings.Contains(err.Error(), "address already in use") {
			fail("AlreadyRunning", "%v", err)
			return 4
		}
		fail("InvalidArguments", "listen %s: %v", finalBind, err)
		return 2
	}
	log.Printf("guardian listening on %s (window=%ds threshold=%d buffer=%d locale=%s)",
		ln.Addr(), finalWindow, finalThreshold, finalBuffer, finalLocale)
	if err := app.Listener(ln); err != nil {
		fail("Internal", "serve: %v", err)
		return 1
	}
	return 0
}

func runLoad(args []string) int {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	var locale string
	var addr string
	var secret string
	var skuColumn string
	var qtyColumn string
	var dryRun bool
	fs.StringVar(&locale, "locale", "", "Locale for number parsing (default GUARDIAN_LOCALE or US).")
	fs.StringVar(&addr, "addr", defaultAdminAddr, "Admin address of the running guardian.")
	fs.StringVar(&secret, "secret", "", "Admin token. Prefer SHOPIFY_WEBHOOK_SECRET.")
	fs.StringVar(&skuColumn, "sku-column", "", "Explicit SKU column name (bypasses the header heuristic).")
	fs.StringVar(&qtyColumn, "qty-column", "", "Explicit quantity column name (bypasses the header heuristic).")
	fs.BoolVar(&dryRun, "dry-run", false, "Parse locally and print a summary without touching the server.")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fail("InvalidArguments", "usage: load <csv-path> [flags]")
		return 2
	}
	path := fs.Arg(0)

	if locale == "" {
		locale = os.Getenv("GUARDIAN_LOCALE")
	}
	opts := guardian.LoaderOptions{Locale: locale, SKUColumn: skuColumn, QtyColumn: qtyColumn}

	if dryRun {
		snap, warnings, err := guardian.LoadSnapshotFile(path, opts, time.Now().UTC())
		if err != nil {
			failErr(err)
			return 3
		}
		printLoadSummary(snap.Source, snap.Location, snap.RowsTotal, snap.RowsAccepted, snap.RowsRejected, len(snap.Quantities))
		printWarnings(warnings)
		return 0
	}

	body, err := os.ReadFile(path)
	if err != nil {
		fail("LoaderError", "read %s: %v", path, err)
		return 3
	}
	token, code := adminToken(secret)
	if code != 0 {
		return code
	}

	q := url.Values{}
	q.Set("source", filepath.Base(path))
	if locale != "" {
		q.Set("locale", locale)
	}
	if skuColumn != "" {
		q.Set("sku_column", skuColumn)
	}
	if qtyColumn != "" {
		q.Set("qty_column", qtyColumn)
	}

	resp, err := adminRequest(http.MethodPost, addr, "/admin/load?"+q.Encode(), token, body)
	if err != nil {
		fail("LoaderError", "post to %s: %v", addr, err)
		return 3
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fail("LoaderError", "server said %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return 3
	}

	var out struct {
		Source       string `json:"source"`
		Location     string `json:"location"`
		RowsTotal    int    `json:"rows_total"`
		RowsAccepted int    `json:"rows_accepted"`
		RowsRejected int    `json:"rows_rejected"`
		SKUCount     int    `json:"sku_count"`
		Warnings     int    `json:"warnings"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		fail("LoaderError", "bad server response: %v", err)
		return 3
	}
	printLoadSummary(out.Source, out.Location, out.RowsTotal, out.RowsAccepted, out.RowsRejected, out.SKUCount)
	if out.Warnings > 0 {
		fmt.Printf("warnings: %d (server log has details)\n", out.Warnings)
	}
	return 0
}

func printLoadSummary(source, location string, total, accepted, rejected, skus int) {
	fmt.Printf("loaded %s\n", source)
	fmt.Printf("location: %s\n", location)
	fmt.Printf("rows: %d total, %d accepted, %d rejected\n", total, accepted, rejected)
	fmt.Printf("skus: %d\n", skus)
}

func printWarnings(warnings []guardian.LoadWarning) {
	const maxShown = 20
	for i, w := range warnings {
		if i == maxShown {
			fmt.Printf("... and %d more warnings\n", len(warnings)-maxShown)
			break
		}
		if w.SKU != "" {
			fmt.Printf("warning: row %d (sku %s): %s\n", w.Row, w.SKU, w.Reason)
		} else {
			fmt.Printf("warning: row %d: %s\n", w.Row, w.Reason)
		}
	}
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var addr string
	var secret string
	fs.StringVar(&addr, "addr", defaultAdminAddr, "Admin address of the running guardian.")
	fs.StringVar(&secret, "secret", "", "Admin token. Prefer SHOPIFY_WEBHOOK_SECRET.")
	_ = fs.Parse(args)

	token, code := adminToken(secret)
	if code != 0 {
		return code
	}
	resp, err := adminRequest(http.MethodGet, addr, "/admin/status", token, nil)
	if err != nil {
		fail("Internal", "reach %s: %v", addr, err)
		return 1
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fail("Internal", "server said %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return 1
	}

	var st guardian.GuardStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		fail("Internal", "bad server response: %v", err)
		return 1
	}
	fmt.Printf("state: %s\n", st.Controller.State)
	if st.Controller.Reason != "" {
		fmt.Printf("reason: %s\n", st.Controller.Reason)
		fmt.Printf("incident: %s\n", st.Controller.IncidentID)
		fmt.Printf("tripped_at: %s\n", st.Controller.TrippedAt.Format(time.RFC3339))
	}
	if st.SnapshotSource != "" {
		fmt.Printf("snapshot: %s (%d skus, location %q, loaded %s)\n",
			st.SnapshotSource, st.SKUCount, st.Location, st.SnapshotLoadedAt.Format(time.RFC3339))
	} else {
		fmt.Println("snapshot: none loaded")
	}
	fmt.Printf("window: %d recent orders, overflowed=%v\n", st.WindowCount, st.WindowOverflowed)
	return 0
}

func runTransition(cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var addr string
	var secret string
	fs.StringVar(&addr, "addr", defaultAdminAddr, "Admin address of the running guardian.")
	fs.StringVar(&secret, "secret", "", "Admin token. Prefer SHOPIFY_WEBHOOK_SECRET.")
	_ = fs.Parse(args)

	token, code := adminToken(secret)
	if code != 0 {
		return code
	}
	resp, err := adminRequest(http.MethodPost, addr, "/admin/"+cmd, token, nil)
	if err != nil {
		fail("Internal", "reach %s: %v", addr, err)
		return 1
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fail("InvalidTransition", "server said %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		return 1
	}
	var out struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		fail("Internal", "bad server response: %v", err)
		return 1
	}
	fmt.Printf("state: %s\n", out.State)
	return 0
}

func adminToken(flagValue string) (string, int) {
	token := flagValue
	if token == "" {
		token = os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(token) == "" {
		fail("InvalidArguments", "missing admin token (use --secret or SHOPIFY_WEBHOOK_SECRET)")
		return "", 2
	}
	return token, 0
}

func adminRequest(method, addr, path, token string, body []byte) (*http.Response, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(method, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Guardian-Token", token)
	if method == http.MethodPost && len(body) > 0 {
		req.Header.Set("Content-Type", "text/csv")
	}
	return client.Do(req)
}

func envInt64(name string) (int64, bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s=%q: %v", name, v, err)
	}
	return n, true, nil
}
