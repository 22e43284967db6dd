// Command quickdrop uploads images straight to the bucket with a signed PUT
// and prints their share links.
//
//	quickdrop [-p] [-password pw] [-expiry 24] [-title t] [-text s] [-config file] FILE...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/Cyxzhar/quickdrop/internal/config"
	"github.com/Cyxzhar/quickdrop/internal/history"
	"github.com/Cyxzhar/quickdrop/internal/sigv4"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

type options struct {
	prompt     bool
	password   string
	expiry     int
	title      string
	text       string
	configPath string
	timeout    time.Duration
	files      []string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "quickdrop:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("quickdrop", flag.ContinueOnError)
	fs.BoolVar(&o.prompt, "p", false, "prompt for an encryption password")
	fs.StringVar(&o.password, "password", "", "encrypt with this password")
	fs.IntVar(&o.expiry, "expiry", 0, fmt.Sprintf("expiry in hours, one of %v (default from config)", upload.ExpiryHours))
	fs.StringVar(&o.title, "title", "", "title shown on the viewer page")
	fs.StringVar(&o.text, "text", "", "description shown on the viewer page")
	fs.StringVar(&o.configPath, "config", os.Getenv("QD_CONFIG"), "YAML config file")
	fs.DurationVar(&o.timeout, "timeout", 0, "per-upload deadline (default from config)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	o.files = fs.Args()
	if len(o.files) == 0 {
		return options{}, errors.New("usage: quickdrop [flags] FILE...")
	}
	if o.prompt && o.password != "" {
		return options{}, errors.New("-p and -password are mutually exclusive")
	}
	if o.expiry != 0 && !upload.ExpiryHoursAllowed(o.expiry) {
		return options{}, fmt.Errorf("%w: %d hours", upload.ErrInvalidExpiry, o.expiry)
	}
	return o, nil
}

func run(o options, out io.Writer) error {
	cfg, err := config.LoadUploader(o.configPath)
	if err != nil {
		return err
	}
	if o.expiry == 0 {
		o.expiry = cfg.ExpiryHours
	}
	if o.timeout <= 0 {
		o.timeout = cfg.Timeout
	}
	if o.prompt {
		if o.password, err = readPassword(); err != nil {
			return err
		}
	}

	signer := sigv4.NewSigner(sigv4.Credentials{AccessKeyID: cfg.AccessKey, SecretAccessKey: cfg.SecretKey})
	if cfg.Region != "" {
		signer.Region = cfg.Region
	}
	client, err := sigv4.NewClient(cfg.Endpoint, cfg.Bucket, signer, &http.Client{Timeout: o.timeout})
	if err != nil {
		return err
	}

	// Event sends never block the pipeline, so the buffer covers every stage.
	events := make(chan upload.Event, 4*len(o.files))
	pipeline := upload.New(client, cfg.PublicURL, upload.WithEvents(events))
	hist := history.New(cfg.HistorySize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hist.Consume(context.Background(), events)
	}()

	var failed int
	for _, path := range o.files {
		res, err := uploadFile(pipeline, path, o)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, authHint(err))
			continue
		}
		fmt.Fprintln(out, res.Link)
	}
	close(events)
	wg.Wait()

	printSummary(out, hist.Recent(len(o.files)), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(o.files))
	}
	return nil
}

func uploadFile(p *upload.Pipeline, path string, o options) (upload.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return upload.Result{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	return p.Upload(ctx, upload.Input{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Password:    o.password,
		TTL:         time.Duration(o.expiry) * time.Hour,
		Title:       o.title,
		Text:        o.text,
	})
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("-p needs a terminal; use -password instead")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(pw) == 0 {
		return "", errors.New("empty password")
	}
	return string(pw), nil
}

func authHint(err error) error {
	var ue *sigv4.UploadError
	if errors.As(err, &ue) && ue.IsAuth() {
		return fmt.Errorf("%w (check access_key and secret_key)", err)
	}
	return err
}

func printSummary(out io.Writer, records []history.Record, failed int) {
	if len(records) < 2 && failed == 0 {
		return
	}
	fmt.Fprintf(out, "\n%d uploaded, %d failed\n", len(records), failed)
	for _, r := range records {
		lock := ""
		if r.Encrypted {
			lock = " (encrypted)"
		}
		fmt.Fprintf(out, "  %-8s %-24s %8d bytes  expires %s%s\n",
			r.ID, truncate(r.Filename, 24), r.Size, r.ExpiresAt.Local().Format(time.RFC822), lock)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "~"
}
