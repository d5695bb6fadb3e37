// Command drcpd is the display and remote control protocol daemon: it
// mediates between a line-oriented physical display (driven over the
// DCP named-pipe transport, spec.md §4.8) and the list-broker, stream
// player, and configuration peers reachable over D-Bus (spec.md §6).
//
// Bootstrap follows teacher's main.go shape (flag parsing, a shared
// client/resources block, a goroutine-count watchdog, signal-driven
// shutdown) generalized from one Docker client connection to the
// daemon's D-Bus connection, DCP pipes, and the main-thread loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/automation"
	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/config"
	"github.com/tplusa/drcpd/internal/crashlog"
	"github.com/tplusa/drcpd/internal/crawler"
	"github.com/tplusa/drcpd/internal/dbusbus"
	"github.com/tplusa/drcpd/internal/dcp"
	"github.com/tplusa/drcpd/internal/eventqueue"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/loop"
	"github.com/tplusa/drcpd/internal/monitor"
	"github.com/tplusa/drcpd/internal/player"
	"github.com/tplusa/drcpd/internal/rnf"
	"github.com/tplusa/drcpd/internal/streaminfo"
	"github.com/tplusa/drcpd/internal/views"
)

// version is a build-time constant, like the teacher prints for its
// own --help; this daemon has no separate release tooling yet so it's
// just a literal.
const version = "1.0.0"

// Default configuration-file location (_examples/original_source/src/
// drcpd.cc: static const char configuration_file_name[] =
// "/var/local/etc/drcpd.ini").
const defaultConfigFile = "/var/local/etc/drcpd.ini"

// Default DCP named-pipe paths (_examples/original_source/src/drcpd.cc
// process_command_line: files.dcp_fifo_out_name/dcp_fifo_in_name).
const (
	defaultODCP = "/tmp/drcpd_to_dcpd"
	defaultIDCP = "/tmp/dcpd_to_drcpd"
)

// D-Bus peer identities (_examples/original_source/src/dbus_iface.c
// name_acquired): drcpd owns "de.tahifi.Drcpd" at "/de/tahifi/Drcpd"
// for itself, and holds proxies to de.tahifi.FileBroker, .Streamplayer,
// etc. at their own service-specific paths. The original dispatches
// list lookups across FileBroker/TuneInBroker/UPnPBroker by list-id
// range; internal/broker models a single Bus peer, so this daemon
// talks to the file broker only. Extending to multi-broker routing
// would need a dispatcher above broker.Bus that nothing built so far
// provides.
const (
	ownBusName = "de.tahifi.Drcpd"
	ownPath    = dbus.ObjectPath("/de/tahifi/Drcpd")

	listBrokerDest = "de.tahifi.FileBroker"
	listBrokerPath = dbus.ObjectPath("/de/tahifi/FileBroker")

	streamPlayerDest = "de.tahifi.Streamplayer"
	streamPlayerPath = dbus.ObjectPath("/de/tahifi/Streamplayer")
)

// cacheWindowSize is the prefetch window C4 maintains around the
// current line (spec.md §3 "Cache window").
const cacheWindowSize = 10

// eventQueueCapacity bounds C9's UI event mailbox.
const eventQueueCapacity = 64

// dcpAckTimeout is the outbound frame acknowledgement deadline
// (spec.md §4.8 "failure to ack within 15 s promotes the transaction
// to TIMEOUT").
const dcpAckTimeout = 15 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			crashlog.Write(r, "main")
			os.Exit(1)
		}
	}()

	opts := parseFlags()
	if opts.showHelp {
		printUsage()
		return
	}
	if opts.showVersion {
		fmt.Println("drcpd " + version)
		return
	}

	log := newLogger(opts)
	crashlog.SetLogger(log)

	capper := newBitrateCapper(0)
	cfgStore, err := config.Load(opts.configFile, log, func(s config.Settings) { capper.set(s.MaximumStreamBitRate) })
	if err != nil {
		log.Error().Err(err).Str("path", opts.configFile).Msg("drcpd: failed to load configuration")
		os.Exit(1)
	}
	capper.set(cfgStore.Snapshot().MaximumStreamBitRate)

	busType := dbus.SystemBus
	if opts.sessionDBus {
		busType = dbus.SessionBus
	}
	conn, err := busType()
	if err != nil {
		log.Error().Err(err).Bool("session", opts.sessionDBus).Msg("drcpd: failed to connect to D-Bus")
		os.Exit(1)
	}
	defer conn.Close()

	if reply, err := conn.RequestName(ownBusName, dbus.NameFlagDoNotQueue); err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		log.Warn().Err(err).Str("name", ownBusName).Msg("drcpd: could not acquire own bus name, continuing unnamed")
	}

	rnfRegistry := rnf.NewRegistry()
	streamRegistry := streaminfo.New()
	events := eventqueue.New(eventQueueCapacity)

	brokerBus := dbusbus.NewBrokerBus(conn, listBrokerDest, listBrokerPath, log, func(cookie ids.Cookie, payload any, err error) {
		rnfRegistry.Deliver(uint32(cookie), payload, err)
	})

	cache := listcache.New(brokerBus, log, cacheWindowSize, capper, rnfRegistry, streamRegistry.Refs())

	vm := views.New(log)
	// No concrete View implementations are registered: spec.md §1
	// Non-goals excludes the source-specific navigation views
	// themselves, so vm.Dispatch will return ErrUnknownView for any
	// ViewOpen/ViewToggle until a view package exists to register.

	resolveURI := makeResolveURI(brokerBus, rnfRegistry, log)
	newCrawlOp := func(dir crawler.Direction, mode crawler.RecursiveMode, onDone func(crawler.Result, error)) *crawler.FindNextOp {
		return crawler.New(brokerBus, func() *listcache.Cache { return cache }, log, dir, mode, rnfRegistry, onDone)
	}

	playerBus := dbusbus.NewPlayerBus(conn, streamPlayerDest, streamPlayerPath, log)
	coord := player.New(playerBus, log, streamRegistry, resolveURI, newCrawlOp)
	defer coord.Close()

	notifier := dbusbus.NewPlayerNotifier(conn, streamPlayerPath, coord, log)
	if err := notifier.Subscribe(); err != nil {
		log.Error().Err(err).Msg("drcpd: failed to subscribe to stream player notifications")
		os.Exit(1)
	}

	uiBus := dbusbus.NewUIBus(conn, ownPath, events, log)
	if err := uiBus.Subscribe(); err != nil {
		log.Error().Err(err).Msg("drcpd: failed to subscribe to the UI command bus")
		os.Exit(1)
	}

	invalidate, err := brokerBus.SubscribeListInvalidate(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("drcpd: list invalidation signals unavailable")
	}

	mainLoop := loop.New(log, events.Events(), invalidate, vm)
	mainLoop.RegisterCache(cache)

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	crashlog.Go("main-loop", func() { mainLoop.Run(loopCtx) })

	odcp, err := dcp.Create(opts.odcpPath, true)
	if err != nil {
		log.Error().Err(err).Str("path", opts.odcpPath).Msg("drcpd: failed to open outbound DCP pipe")
		os.Exit(1)
	}
	defer odcp.Close()

	idcp, err := dcp.Create(opts.idcpPath, false)
	if err != nil {
		log.Error().Err(err).Str("path", opts.idcpPath).Msg("drcpd: failed to open inbound DCP pipe")
		os.Exit(1)
	}
	defer idcp.Close()

	dcpQueue := dcp.New(odcp.WriteFrame, dcpAckTimeout, log)
	ackReader := dcp.NewAckReader(idcp, dcpQueue, log)
	ackStop := make(chan struct{})
	crashlog.Go("dcp-ack-reader", func() { ackReader.Run(ackStop) })
	defer close(ackStop)

	// Every view would normally own its own Cache; with no concrete
	// View registered (spec.md §1 Non-goals), the daemon has exactly
	// one Cache for its whole lifetime, so the automation/monitor
	// CacheProvider just returns it unconditionally.
	activeCache := func() *listcache.Cache { return cache }

	var automationServer *automation.Server
	if opts.automationPort > 0 {
		automationServer, err = automation.New(opts.automationPort, coord, activeCache, dcpQueue, log)
		if err != nil {
			log.Error().Err(err).Msg("drcpd: failed to create automation server")
			os.Exit(1)
		}
		crashlog.Go("automation-server", func() {
			if err := automationServer.Start(); err != nil {
				log.Error().Err(err).Msg("drcpd: automation server stopped")
			}
		})
	}

	var monitorProgram *tea.Program
	if opts.monitor {
		m := monitor.New(coord, activeCache, dcpQueue)
		monitorProgram = tea.NewProgram(m, tea.WithAltScreen())
		crashlog.Go("monitor-tui", func() {
			if _, err := monitorProgram.Run(); err != nil {
				log.Error().Err(err).Msg("drcpd: monitor TUI stopped")
			}
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("drcpd: shutting down")

	if monitorProgram != nil {
		monitorProgram.Quit()
	}
	if automationServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		automationServer.Shutdown(ctx)
		cancel()
	}
}

// bitrateCapper is the runtime-adjustable listcache.BitrateCapper
// backing the `maximum_stream_bit_rate` configuration key; config.Load's
// ChangeFunc calls set whenever an update-scope commits a new value.
type bitrateCapper struct {
	limitKbps atomic.Uint32
}

func newBitrateCapper(initial uint32) *bitrateCapper {
	c := &bitrateCapper{}
	c.limitKbps.Store(initial)
	return c
}

func (c *bitrateCapper) set(limitKbps uint32) { c.limitKbps.Store(limitKbps) }

func (c *bitrateCapper) Cap(kbps int, has bool) (int, bool) {
	limit := c.limitKbps.Load()
	if limit == 0 || !has || kbps <= int(limit) {
		return kbps, has
	}
	return int(limit), has
}

// makeResolveURI builds the player.ResolveURI closure the crawler's
// enqueue path needs: a synchronous GetUris lookup converted from the
// broker's async cookie contract via rnf.Call, the same
// request-then-FetchBlocking idiom internal/crawler's own child-list-id
// lookup and internal/listcache's range fetch already use.
func makeResolveURI(bus broker.Bus, registry *rnf.Registry, log zerolog.Logger) player.ResolveURI {
	return func(ctx context.Context, list ids.ListID, line int) (string, error) {
		cookie, err := bus.GetUris(ctx, list, line)
		if err != nil {
			return "", fmt.Errorf("drcpd: GetUris: %w", err)
		}

		call := rnf.New[broker.UrisResult](log)
		if err := call.Request(uint32(cookie)); err != nil {
			return "", fmt.Errorf("drcpd: GetUris request: %w", err)
		}
		rnf.RegisterCall(registry, uint32(cookie), call)

		res, err := call.FetchBlocking()
		if err != nil {
			return "", fmt.Errorf("drcpd: GetUris reply: %w", err)
		}
		if len(res.URIs) == 0 {
			return "", fmt.Errorf("drcpd: GetUris: empty result for list %d line %d", list, line)
		}
		return res.URIs[0], nil
	}
}

// cliOptions is every value spec.md §6's CLI surface and SPEC_FULL.md's
// automation/monitor additions parse into.
type cliOptions struct {
	showHelp       bool
	showVersion    bool
	verboseLevel   int
	quiet          bool
	foreground     bool
	idcpPath       string
	odcpPath       string
	sessionDBus    bool
	automationPort int
	monitor        bool
	configFile     string
}

func parseFlags() cliOptions {
	fs := flag.NewFlagSet("drcpd", flag.ExitOnError)
	fs.Usage = printUsage

	var opts cliOptions
	fs.BoolVar(&opts.showHelp, "help", false, "Show this help message")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	fs.IntVar(&opts.verboseLevel, "verbose", 2, "Log verbosity level (0=quiet .. 4=trace)")
	fs.BoolVar(&opts.quiet, "quiet", false, "Suppress all but error-level logging")
	fs.BoolVar(&opts.foreground, "fg", false, "Run in the foreground with human-readable console logging")
	fs.StringVar(&opts.idcpPath, "idcp", defaultIDCP, "Path of the inbound DCP named pipe (dcpd -> drcpd)")
	fs.StringVar(&opts.odcpPath, "odcp", defaultODCP, "Path of the outbound DCP named pipe (drcpd -> dcpd)")
	sessionDBus := fs.Bool("session-dbus", true, "Connect to the D-Bus session bus (default)")
	systemDBus := fs.Bool("system-dbus", false, "Connect to the D-Bus system bus instead of the session bus")
	fs.IntVar(&opts.automationPort, "automation-port", 9877, "Automation MCP server port (0 disables it)")
	fs.BoolVar(&opts.monitor, "monitor", false, "Run the operator TUI dashboard alongside the daemon")
	fs.StringVar(&opts.configFile, "config-file", defaultConfigFile, "Persisted settings file path")

	_ = fs.Parse(os.Args[1:])

	opts.sessionDBus = *sessionDBus && !*systemDBus
	return opts
}

func printUsage() {
	fmt.Println("drcpd - display and remote control protocol daemon")
	fmt.Println()
	fmt.Println("Usage: drcpd [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --help                 Show this help message")
	fmt.Println("  --version              Show version and exit")
	fmt.Println("  --verbose <level>      Log verbosity level (0-4, default 2)")
	fmt.Println("  --quiet                Suppress all but error-level logging")
	fmt.Println("  --fg                   Run in the foreground with console logging")
	fmt.Println("  --idcp <path>          Inbound DCP named pipe (default " + defaultIDCP + ")")
	fmt.Println("  --odcp <path>          Outbound DCP named pipe (default " + defaultODCP + ")")
	fmt.Println("  --session-dbus         Connect to the session bus (default)")
	fmt.Println("  --system-dbus          Connect to the system bus instead")
	fmt.Println("  --automation-port N    Automation MCP server port (default 9877, 0 disables)")
	fmt.Println("  --monitor              Run the operator TUI dashboard")
	fmt.Println()
}

// newLogger builds the root logger: a human-readable console writer in
// foreground mode, matching what an operator watching --fg expects, or
// plain JSON for supervised/background runs. zerolog is already the
// structured-logging dependency every internal package takes a
// zerolog.Logger from; this is its own documented bootstrap API, not a
// new dependency.
func newLogger(opts cliOptions) zerolog.Logger {
	var w = os.Stderr
	var logger zerolog.Logger
	if opts.foreground {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(w).With().Timestamp().Logger()
	}

	level := zerolog.InfoLevel
	switch {
	case opts.quiet:
		level = zerolog.ErrorLevel
	case opts.verboseLevel <= 0:
		level = zerolog.ErrorLevel
	case opts.verboseLevel == 1:
		level = zerolog.WarnLevel
	case opts.verboseLevel == 2:
		level = zerolog.InfoLevel
	case opts.verboseLevel == 3:
		level = zerolog.DebugLevel
	default:
		level = zerolog.TraceLevel
	}
	return logger.Level(level)
}
