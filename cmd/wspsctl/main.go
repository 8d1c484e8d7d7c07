package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/config"
	"github.com/luciancaetano/wsps/internal/logging"
	"github.com/luciancaetano/wsps/ws"
)

const disconnectTimeout = 5 * time.Second

type options struct {
	configPath string
	server     string
	key        string
	codec      string
	pretty     bool
}

type closeInfo struct {
	code   int
	reason string
}

var (
	channelColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	okColor      = color.New(color.FgGreen).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	errColor     = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  wspsctl subscribe [-config file] [-server url] [-key key] [-codec std|fast] [-pretty] channel...")
	fmt.Fprintln(w, "  wspsctl publish   [-config file] [-server url] [-key key] [-codec std|fast] channel json-data")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "subscribe":
		err = runSubscribe(ctx, args[1:], stdout, stderr)
	case "publish":
		err = runPublish(ctx, args[1:], stdout, stderr)
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s %v\n", errColor("error:"), err)
		return 1
	}
	return 0
}

func parseFlags(name string, args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "client config file (.toml, .yaml or .yml)")
	fs.StringVar(&opts.server, "server", "", "server URI, overrides the config file")
	fs.StringVar(&opts.key, "key", "", "channel key, overrides the config file")
	fs.StringVar(&opts.codec, "codec", "", "serialization backend: std | fast")
	if name == "subscribe" {
		fs.BoolVar(&opts.pretty, "pretty", false, "indent message data")
	}
	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	return opts, fs.Args(), nil
}

// loadConfig merges the optional config file with command line overrides.
func loadConfig(opts options) (config.ClientConfig, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if opts.server != "" {
		cfg.Server = opts.server
	}
	if opts.codec != "" {
		cfg.Codec = opts.codec
	}
	if err := config.Validate(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.ClientConfig, stderr io.Writer) zerolog.Logger {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	cfg.ApplyLogging(&lc)
	logging.ApplyEnvOverrides(&lc, os.Getenv)
	lc.Output = stderr
	return logging.New(lc).With().Str("component", "wspsctl").Logger()
}

// newClient builds a client whose close notifications land on the returned channel.
func newClient(cfg config.ClientConfig, stderr io.Writer) (wsps.Client, <-chan closeInfo, error) {
	closed := make(chan closeInfo, 1)
	cc := cfg.ToClientConfig(func(code int, reason string) {
		select {
		case closed <- closeInfo{code: code, reason: reason}:
		default:
		}
	})

	logger := newLogger(cfg, stderr)
	cc.Logger = &logger
	cc.OnError = func(err error) {
		fmt.Fprintf(stderr, "%s %v\n", warnColor("warning:"), err)
	}

	client, err := ws.NewClient(cc)
	if err != nil {
		return nil, nil, err
	}
	return client, closed, nil
}

func runSubscribe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, channels, err := parseFlags("subscribe", args, stderr)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return errors.New("subscribe needs at least one channel")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	key := cfg.Keys.Subscribe
	if opts.key != "" {
		key = opts.key
	}

	client, closed, err := newClient(cfg, stderr)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	out := newPrinter(stdout, opts.pretty)
	for _, channel := range channels {
		if err := client.Subscribe(ctx, channel, out.print, key); err != nil {
			shutdown(client)
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	fmt.Fprintf(stderr, "%s %s on %s\n", okColor("subscribed"), strings.Join(channels, ", "), cfg.Server)

	select {
	case <-ctx.Done():
		shutdown(client)
		return nil
	case c := <-closed:
		return closeError(c)
	}
}

func runPublish(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseFlags("publish", args, stderr)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errors.New("publish needs a channel and a JSON value")
	}
	channel, rawData := rest[0], rest[1]
	if !json.Valid([]byte(rawData)) {
		return fmt.Errorf("data %q is not valid JSON", rawData)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	key := cfg.Keys.Publish
	if opts.key != "" {
		key = opts.key
	}

	client, closed, err := newClient(cfg, stderr)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	// Closing mid-handshake abandons the dial, so wait for the connection
	// before publishing and disconnecting.
	if err := waitConnected(ctx, client, closed); err != nil {
		shutdown(client)
		return err
	}
	if err := client.Publish(ctx, channel, json.RawMessage(rawData), key); err != nil {
		shutdown(client)
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()
	if err := client.Disconnect(dctx); err != nil && !errors.Is(err, wsps.ErrNotConnected) {
		return err
	}

	select {
	case c := <-closed:
		if c.code != wsps.CloseNormalClosure {
			return closeError(c)
		}
	default:
	}
	fmt.Fprintf(stdout, "%s %s\n", okColor("published to"), channelColor(channel))
	return nil
}

func waitConnected(ctx context.Context, client wsps.Client, closed <-chan closeInfo) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for client.State() != wsps.StateConnected {
		select {
		case c := <-closed:
			return closeError(c)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func shutdown(client wsps.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	_ = client.Disconnect(ctx)
}

func closeError(c closeInfo) error {
	if c.reason == "" {
		return fmt.Errorf("connection closed with code %d", c.code)
	}
	return fmt.Errorf("connection closed with code %d: %s", c.code, c.reason)
}

// printer writes one line (or block, when pretty) per received message.
type printer struct {
	w      io.Writer
	pretty bool
}

func newPrinter(w io.Writer, pretty bool) *printer {
	return &printer{w: w, pretty: pretty}
}

func (p *printer) print(packet wsps.Packet) {
	fmt.Fprintln(p.w, formatMessage(packet, p.pretty))
}

func formatMessage(packet wsps.Packet, pretty bool) string {
	data := "null"
	if packet.HasData() {
		data = string(packet.Data)
		if pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, packet.Data, "", "    "); err == nil {
				data = buf.String()
			}
		}
	}
	return fmt.Sprintf("%s %s", channelColor("["+packet.Channel+"]"), data)
}
