// simplepub publishes a single MQTT message and exits.
//
// It connects to a broker, submits CONNECT and one PUBLISH, keeps driving
// the connection for a short fixed wait so the frames (and any QoS 1/2
// acknowledgements) go through, then disconnects. The exit status is 0
// when the broker accepted the connection and nothing failed, 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/nerrad567/simplepub/internal/audit"
	"github.com/nerrad567/simplepub/internal/infrastructure/config"
	"github.com/nerrad567/simplepub/internal/infrastructure/database"
	"github.com/nerrad567/simplepub/internal/infrastructure/influxdb"
	"github.com/nerrad567/simplepub/internal/infrastructure/logging"
	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
	"github.com/nerrad567/simplepub/internal/infrastructure/transport"
	"github.com/nerrad567/simplepub/internal/publisher"
	"github.com/nerrad567/simplepub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// configEnv names the environment variable holding the config file path.
const configEnv = "SIMPLEPUB_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, transport.PromptPassword)
	cancel()
	os.Exit(code)
}

// flags holds the raw command-line values before they are merged into the
// configuration.
type flags struct {
	host         string
	port         int
	topic        string
	message      string
	username     string
	password     string
	qos          int
	clientID     string
	retain       bool
	keepAlive    int
	cleanSession bool
	transport    string
	caFile       string
	insecure     bool
	configPath   string
	pwPrompt     bool
	debug        bool
	showVersion  bool
	showHelp     bool
}

func newFlagSet(f *flags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("simplepub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	// ── broker ───────────────────────────────────────────────────
	fs.StringVarP(&f.host, "host", "h", "localhost", "Broker host")
	fs.IntVarP(&f.port, "port", "p", 1883, "Broker port")
	fs.StringVarP(&f.clientID, "id", "i", "mosquitto_simplepub", "Client identifier")
	fs.StringVarP(&f.username, "username", "u", "", "Username")
	fs.StringVarP(&f.password, "pw", "P", "", "Password")
	fs.BoolVar(&f.pwPrompt, "password-prompt", false, "Read the password from the terminal")
	fs.IntVarP(&f.keepAlive, "keepalive", "k", 400, "Keep-alive interval in seconds")
	fs.BoolVar(&f.cleanSession, "clean-session", false, "Ask the broker to discard session state")

	// ── message ──────────────────────────────────────────────────
	fs.StringVarP(&f.topic, "topic", "t", "", "Topic to publish to (required)")
	fs.StringVarP(&f.message, "message", "m", "", "Message payload (required)")
	fs.IntVarP(&f.qos, "qos", "q", 0, "Quality of service (0, 1 or 2)")
	fs.BoolVarP(&f.retain, "retain", "r", false, "Ask the broker to retain the message")

	// ── transport ────────────────────────────────────────────────
	fs.StringVar(&f.transport, "transport", config.TransportTCP, "tcp, tls, ws or wss")
	fs.StringVar(&f.caFile, "cafile", "", "CA certificate for tls/wss")
	fs.BoolVar(&f.insecure, "insecure", false, "Skip broker certificate verification")

	// ── misc ─────────────────────────────────────────────────────
	fs.StringVar(&f.configPath, "config", "", "YAML config file (default $"+configEnv+")")
	fs.BoolVarP(&f.debug, "debug", "d", false, "Debug logging")
	fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&f.showHelp, "help", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }
	return fs
}

// run is the program, separated from main for tests. It returns the exit
// status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, prompt func(string) ([]byte, error)) int {
	var f flags
	fs := newFlagSet(&f, stderr)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr, fs)
		return exitFailure
	}
	if f.showHelp {
		printUsage(stderr, fs)
		return exitFailure
	}
	if f.showVersion {
		fmt.Fprintf(stdout, "simplepub %s (commit %s, built %s)\n", version, commit, date)
		return exitSuccess
	}

	configPath := f.configPath
	if configPath == "" {
		configPath = os.Getenv(configEnv)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	applyFlags(cfg, fs, &f)

	if cfg.Publish.Topic == "" || cfg.Publish.Message == nil {
		printUsage(stderr, fs)
		return exitFailure
	}

	if f.pwPrompt {
		pw, err := prompt("MQTT password: ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: reading password: %v\n", err)
			return exitFailure
		}
		cfg.MQTT.Auth.Password = string(pw)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	logger := logging.NewWithWriter(cfg.Logging, version, logOutput(cfg.Logging.Output, stdout, stderr))
	logger.Debug("configuration loaded", "path", configPath, "broker", cfg.BrokerAddress())

	tcfg, err := transport.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	recorders, closeRecorders := openRecorders(ctx, cfg, logger)
	defer closeRecorders()

	// Runner treats zero as "use the default"; publish_wait_ms: 0 means no wait.
	publishWait := cfg.PublishWait()
	if publishWait == 0 {
		publishWait = -1
	}

	runner := &publisher.Runner{
		Open: func(ctx context.Context) (publisher.Transport, error) {
			return transport.Open(ctx, tcfg)
		},
		Broker:       cfg.BrokerAddress(),
		SendCapacity: cfg.Session.SendBuffer,
		RecvCapacity: cfg.Session.RecvBuffer,
		Session: []publisher.SessionOption{
			publisher.WithAckTimeout(cfg.AckTimeout()),
			publisher.WithMaxRetries(cfg.Session.MaxRetries),
			publisher.WithIOPoll(cfg.IOPoll()),
		},
		Connect: mqtt.ConnectOptions{
			ClientID:     cfg.MQTT.Broker.ClientID,
			Username:     cfg.MQTT.Auth.Username,
			Password:     cfg.MQTT.Auth.Password,
			KeepAlive:    cfg.KeepAlive(),
			CleanSession: cfg.MQTT.CleanSession,
		},
		SyncPeriod:  cfg.SyncPeriod(),
		PublishWait: publishWait,
		Recorders:   recorders,
		Logger:      logger,
	}

	report := runner.Run(ctx, publisher.PublishRequest{
		Topic:   cfg.Publish.Topic,
		Payload: []byte(*cfg.Publish.Message),
		QoS:     byte(cfg.Publish.QoS), //nolint:gosec // Validate keeps qos in 0..2
		Retain:  cfg.Publish.Retain,
	})
	if report.Err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", report.Err)
	}
	return int(report.Status)
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, f *flags) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}

	set("host", func() { cfg.MQTT.Broker.Host = f.host })
	set("port", func() { cfg.MQTT.Broker.Port = f.port })
	set("id", func() { cfg.MQTT.Broker.ClientID = f.clientID })
	set("username", func() { cfg.MQTT.Auth.Username = f.username })
	set("pw", func() { cfg.MQTT.Auth.Password = f.password })
	set("keepalive", func() { cfg.MQTT.KeepAlive = f.keepAlive })
	set("clean-session", func() { cfg.MQTT.CleanSession = f.cleanSession })
	set("topic", func() { cfg.Publish.Topic = f.topic })
	set("message", func() { cfg.Publish.Message = &f.message })
	set("qos", func() { cfg.Publish.QoS = f.qos })
	set("retain", func() { cfg.Publish.Retain = f.retain })
	set("transport", func() { cfg.MQTT.Broker.Transport = f.transport })
	set("cafile", func() { cfg.MQTT.Broker.TLS.CAFile = f.caFile })
	set("insecure", func() { cfg.MQTT.Broker.TLS.InsecureSkipVerify = f.insecure })
	set("debug", func() {
		if f.debug {
			cfg.Logging.Level = "debug"
		}
	})
}

// openRecorders connects the optional journal and telemetry sinks. A sink
// that cannot be opened is logged and skipped; it never fails the run.
func openRecorders(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]publisher.Recorder, func()) {
	var recorders []publisher.Recorder
	var closers []func() error

	if cfg.Audit.Enabled {
		db, err := openJournal(ctx, cfg.Audit, logger)
		if err != nil {
			logger.Warn("publish journal unavailable", "path", cfg.Audit.Path, "error", err)
		} else {
			recorders = append(recorders, audit.NewSQLiteRepository(db.DB))
			closers = append(closers, db.Close)
		}
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
			logger.Warn("influxdb unavailable", "url", cfg.InfluxDB.URL, "error", err)
		} else if err == nil {
			recorders = append(recorders, client)
			closers = append(closers, client.Close)
		}
	}

	return recorders, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("closing recorder", "error", err)
			}
		}
	}
}

// openJournal opens, migrates and checks the publish journal.
func openJournal(ctx context.Context, cfg config.AuditConfig, logger *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	mode, err := db.JournalMode(ctx)
	if err != nil {
		mode = "unknown"
	}
	logger.Debug("publish journal open", "path", db.Path(), "journal_mode", mode)
	return db, nil
}

// logOutput maps logging.output onto the process streams.
func logOutput(output string, stdout, stderr io.Writer) io.Writer {
	switch output {
	case "stdout":
		return stdout
	case "none", "discard":
		return io.Discard
	default:
		return stderr
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `simplepub %s: publish one MQTT message and exit.

Usage:
  simplepub -t topic -m message [options]

Options:
`, version)
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintf(w, `
Examples:
  simplepub -t sensors/temp -m 23.5
  simplepub -h broker.lan -q 1 -r -t status/door -m open
  simplepub --config simplepub.yaml -t sensors/temp -m 23.5

Environment:
  %s  config file path (overridden by --config)
  SIMPLEPUB_MQTT_HOST, SIMPLEPUB_MQTT_PORT, SIMPLEPUB_MQTT_USERNAME,
  SIMPLEPUB_MQTT_PASSWORD, SIMPLEPUB_LOG_LEVEL

Exit status is 0 when the message was published, 1 otherwise.
`, configEnv)
}
