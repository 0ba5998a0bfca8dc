// Command sentryhopd boots one mesh node: it loads configuration,
// wires the analyzers, the radio scheduler, the triangulation
// coordinator and the mesh broker to their adapters, and runs the
// mesh RX loop, the periodic analyzer/coordinator tick, and the
// status HTTP surface until signaled to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyline-mesh/sentryhop/internal/adapters/drone"
	"github.com/skyline-mesh/sentryhop/internal/adapters/identitydb"
	"github.com/skyline-mesh/sentryhop/internal/adapters/mesh"
	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer"
	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer/classifier"
	"github.com/skyline-mesh/sentryhop/internal/adapters/storage"
	"github.com/skyline-mesh/sentryhop/internal/adapters/web"
	"github.com/skyline-mesh/sentryhop/internal/config"
	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/services/baseline"
	"github.com/skyline-mesh/sentryhop/internal/core/services/deauth"
	meshbroker "github.com/skyline-mesh/sentryhop/internal/core/services/mesh"
	"github.com/skyline-mesh/sentryhop/internal/core/services/randomization"
	"github.com/skyline-mesh/sentryhop/internal/core/services/registry"
	"github.com/skyline-mesh/sentryhop/internal/core/services/reporting"
	"github.com/skyline-mesh/sentryhop/internal/core/services/triangulation"
	"github.com/skyline-mesh/sentryhop/internal/geo"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.InitMetrics()

	shutdownTracer, err := telemetry.InitTracer()
	if err != nil {
		log.Fatalf("sentryhopd: tracer init: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("sentryhopd: tracer shutdown: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootTime := time.Now()

	// Persistence: the identity DB is always on (a flat file, no daemon
	// dependency); config/audit SQLite degrades to RAM-only rather
	// than refusing to boot.
	identityStore := identitydb.New(cfg.IdentityDBPath)

	configStore, err := storage.NewConfigStore(cfg.ConfigDBPath)
	if err != nil {
		log.Printf("sentryhopd: config store unavailable, continuing RAM-only: %v", err)
		configStore = nil
	} else {
		defer configStore.Close()
	}
	eventSink, err := storage.NewEventSink(cfg.AuditDBPath)
	if err != nil {
		log.Printf("sentryhopd: audit sink unavailable, continuing without SD log: %v", err)
		eventSink = nil
	} else {
		defer eventSink.Close()
	}

	// Randomization engine, loaded before anything else starts so
	// identity-handle matches are correct from the first frame.
	randEngine := randomization.New(identityStore)
	if err := randEngine.Load(ctx); err != nil {
		log.Printf("sentryhopd: identity DB load: %v", err)
	}

	// Target/allowlist registry, bound to the randomization engine
	// for identity-handle membership tests.
	reg := registry.New(randEngine)
	if text, err := os.ReadFile(cfg.TargetsPath); err == nil {
		reg.LoadTargets(string(text))
	}
	if text, err := os.ReadFile(cfg.AllowlistPath); err == nil {
		reg.LoadAllowlist(string(text))
	}

	deauthDetector := deauth.New()
	baselineCfg := domain.BaselineConfig{
		LearnDuration:      time.Duration(cfg.BaselineLearnMinutes) * time.Minute,
		RSSIThreshold:      cfg.BaselineRSSIThreshold,
		AbsenceThreshold:   time.Duration(cfg.BaselineAbsenceSeconds) * time.Second,
		ReappearanceWindow: time.Duration(cfg.BaselineReappearSeconds) * time.Second,
		SignificantRSSI:    cfg.BaselineRSSIDeltaAlert,
	}
	baselineDetector := baseline.New(baselineCfg, reg, bootTime)

	// drone/ODID analyzer; independent of the MAC-matching analyzers.
	droneDetector := drone.New()

	// A surveyed fixed position stands in for a live GPS receiver (out
	// of scope.
	gps := geo.NewStaticGPS(cfg.Latitude, cfg.Longitude, 1.0)
	clock := geo.SystemClock{}

	transport, closeTransport, err := openMeshTransport(cfg)
	if err != nil {
		log.Fatalf("sentryhopd: mesh transport: %v", err)
	}
	defer closeTransport()

	// webServer is constructed before broker/coordinator purely to get
	// at its Hub early: every outbound mesh line and every registry-match and deauth hit
	// mirrors onto the operator WebSocket stream, and both the broker
	// and the detectors are built below this point. Status/Terminal are
	// filled in once broker exists (both fields are plain exported
	// struct fields, so there is no ordering constraint on setting
	// them).
	webServer := web.NewServer(cfg.Addr, nil, nil, nil)

	// broker is forward-declared: the coordinator's Sender closure
	// captures it by reference and is only invoked once broker itself
	// is constructed below, breaking the broker<->coordinator cycle
	// (the broker's Handlers need the coordinator; the coordinator
	// needs the broker to transmit).
	var broker *meshbroker.Broker
	sender := meshSenderFunc(func(ctx context.Context, content string, canDelay bool) error {
		err := broker.Send(ctx, content, canDelay)
		if err == nil {
			webServer.Hub.BroadcastTerminalLine(content)
		}
		return err
	})
	coordinator := triangulation.New(cfg.NodeID, sender, reg, gps, clock)

	deauthDetector.OnAttack = webServer.Hub.BroadcastDeauth

	clsfr := classifier.New(classifier.Sinks{
		Registry:      reg,
		Randomization: randEngine.AsAnalyzer(),
		Deauth:        deauthDetector,
		Baseline:      baselineDetector,
		Triangulation: coordinator,
		Drone:         droneDetector,
		OnHit: func(h domain.Hit) {
			webServer.Hub.BroadcastHit(h)
			if eventSink != nil {
				_ = eventSink.Record(ctx, "hit", hitLogLine(h))
			}
		},
	})

	sched := sniffer.New(clsfr, sniffer.NoopBLEScanner{}, cfg.RFPreset)

	status := func() string {
		return buildStatusLine(cfg, bootTime, randEngine, deauthDetector, gps)
	}

	broker = meshbroker.New(cfg.NodeID, transport, buildHandlers(handlerDeps{
		cfg:         cfg,
		registry:    reg,
		scheduler:   sched,
		randEngine:  randEngine,
		deauth:      deauthDetector,
		baseline:    baselineDetector,
		drone:       droneDetector,
		coordinator: coordinator,
		configStore: configStore,
		status:      status,
		send:        sender.Send,
	}))

	webServer.Status = statusProviderFunc(status)
	webServer.Terminal = broker
	webServer.Triangulation = coordinator
	webServer.Report = func() (reporting.Report, bool) {
		return reporting.Report{
			NodeID:       cfg.NodeID,
			GeneratedAt:  time.Now(),
			DeauthText:   deauthDetector.Results(),
			BaselineText: baselineDetector.Results(),
		}, true
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := broker.RunRX(egCtx); err != nil && egCtx.Err() == nil {
			return fmt.Errorf("mesh RX: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		cleanupTick := 0
		for {
			select {
			case <-egCtx.Done():
				return nil
			case now := <-ticker.C:
				randEngine.Tick(now)
				coordinator.Tick(egCtx, now)
				baselineDetector.SweepAbsent(now)
				cleanupTick++
				if cleanupTick >= 60 {
					cleanupTick = 0
					deauthDetector.Cleanup(now)
					droneDetector.Cleanup(now)
				}
			}
		}
	})

	if cfg.Addr != "" {
		eg.Go(func() error {
			return webServer.Run(egCtx)
		})
	}

	log.Printf("sentryhopd: node %s up (mesh=%s rf=%s channels=%v)", cfg.NodeID, cfg.MeshDevice, cfg.RFPreset, cfg.Channels)

	if err := eg.Wait(); err != nil && egCtx.Err() == nil {
		log.Printf("sentryhopd: worker error: %v", err)
	}

	// Stop-side epilogue
	// persist identities.
	if err := sched.Stop(); err != nil {
		log.Printf("sentryhopd: scheduler stop: %v", err)
	}
	if err := randEngine.Stop(context.Background()); err != nil {
		log.Printf("sentryhopd: identity DB save: %v", err)
	}
	log.Printf("sentryhopd: node %s stopped", cfg.NodeID)
}

// meshSenderFunc adapts a closure to triangulation.Sender.
type meshSenderFunc func(ctx context.Context, content string, canDelay bool) error

func (f meshSenderFunc) Send(ctx context.Context, content string, canDelay bool) error {
	return f(ctx, content, canDelay)
}

// statusProviderFunc adapts a closure to web.StatusProvider.
type statusProviderFunc func() string

func (f statusProviderFunc) Status() string { return f() }

// buildStatusLine renders the single-line summary both the mesh STATUS
// command and the HTTP /status endpoint publish
// example ("AH02: STATUS: Mode:WiFi+BLE Scan:ACTIVE ...").
func buildStatusLine(cfg *config.Config, bootTime time.Time, eng *randomization.Engine, d *deauth.Detector, g *geo.StaticGPS) string {
	sessions, identities := eng.Stats()
	up := time.Since(bootTime).Truncate(time.Second)
	lat, lon, hdop, ok := g.Location()
	gpsPart := ""
	if ok {
		gpsPart = fmt.Sprintf(" GPS:%.6f,%.6f HDOP=%.1f", lat, lon, hdop)
	}
	return fmt.Sprintf("STATUS: Mode:WiFi+BLE Scan:ACTIVE Sessions:%d Identities:%d Up:%s%s",
		sessions, identities, formatUptime(up), gpsPart)
}

func formatUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func hitLogLine(h domain.Hit) string {
	band := "WiFi"
	if h.IsBLE {
		band = "BLE"
	}
	return fmt.Sprintf("%s %s RSSI:%d Chan:%d Type:%s", h.Timestamp.Format(time.RFC3339), domain.FormatMAC(h.MAC), h.RSSI, h.Channel, band)
}

// openMeshTransport opens the configured serial device, or a
// never-ready loopback under -mock so the rest of the wiring runs
// without a mesh link attached. Baud/parity configuration is a
// platform ioctl handled outside this process; the tty is assumed
// already configured, and the device node is treated as a plain
// file.
func openMeshTransport(cfg *config.Config) (*mesh.LineTransport, func(), error) {
	if cfg.MockMode {
		m := mesh.NewLineTransport(&blockingLoopback{closed: make(chan struct{})})
		return m, func() { _ = m.Close() }, nil
	}
	f, err := os.OpenFile(cfg.MeshDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open mesh device %s: %w", cfg.MeshDevice, err)
	}
	m := mesh.NewLineTransport(f)
	return m, func() { _ = m.Close() }, nil
}

// blockingLoopback is an io.ReadWriteCloser that accepts writes and
// blocks reads until Close, standing in for an unattached mesh link in
// -mock mode.
type blockingLoopback struct {
	closed chan struct{}
}

func (b *blockingLoopback) Read(p []byte) (int, error) {
	<-b.closed
	return 0, os.ErrClosed
}

func (b *blockingLoopback) Write(p []byte) (int, error) { return len(p), nil }

func (b *blockingLoopback) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

// handlerDeps bundles everything buildHandlers needs to close over,
// kept as a struct instead of a long parameter list, like
// classifier.Sinks.
type handlerDeps struct {
	cfg         *config.Config
	registry    *registry.Registry
	scheduler   *sniffer.Scheduler
	randEngine  *randomization.Engine
	deauth      *deauth.Detector
	baseline    *baseline.Detector
	drone       *drone.Detector
	coordinator *triangulation.Coordinator
	configStore *storage.ConfigStore
	status      func() string
	send        func(ctx context.Context, content string, canDelay bool) error
}

// buildHandlers wires the mesh routing table onto the rest of the
// core. Every *_START variant converges on ensuring the radio
// scheduler is running: the classifier always fans a captured frame
// out to every analyzer, so there is exactly one drain loop
// regardless of which prefix triggered it. The per-mode distinction
// the wire protocol carries is preserved in the ack, not in a
// separate worker.
func buildHandlers(d handlerDeps) meshbroker.Handlers {
	ctx := context.Background()

	// ack sends a success/failure acknowledgement the way the wire
	// example "AH01: SCAN_ACK:STARTED" does, and returns err unchanged
	// so the handler's own return value stays meaningful to a direct
	// (non-mesh) caller such as a test.
	ack := func(ackPrefix string, err error) error {
		if err != nil {
			_ = d.send(ctx, fmt.Sprintf("%s:ERROR:%s", ackPrefix, err.Error()), true)
			return err
		}
		_ = d.send(ctx, ackPrefix+":OK", true)
		return nil
	}

	startScan := func(string) error {
		return ack("SCAN_ACK", d.scheduler.Start(ctx, d.cfg.Interfaces, d.cfg.Channels))
	}

	return meshbroker.Handlers{
		ConfigChannels: func(value string) error {
			channels := parseIntList(value)
			if len(channels) == 0 {
				return ack("CONFIG_ACK", fmt.Errorf("CONFIG_CHANNELS: no valid channels in %q", value))
			}
			if err := d.scheduler.SetChannels(channels); err != nil {
				return ack("CONFIG_ACK", err)
			}
			d.cfg.Channels = channels
			persistConfig(ctx, d.configStore, "channels", value)
			return ack("CONFIG_ACK", nil)
		},
		ConfigTargets: func(value string) error {
			d.registry.LoadTargets(value)
			persistConfig(ctx, d.configStore, "maclist", value)
			return ack("CONFIG_ACK", nil)
		},
		ScanStart:          startScan,
		BaselineStart:      startScan,
		DeviceScanStart:    startScan,
		DroneStart:         startScan,
		DeauthStart:        startScan,
		RandomizationStart: startScan,
		Stop: func() {
			_ = d.scheduler.Stop()
			if err := d.randEngine.Stop(ctx); err != nil {
				log.Printf("sentryhopd: identity DB save on stop: %v", err)
			}
			_ = d.send(ctx, "STOP_ACK", false)
		},
		// The broker's dispatch table only invokes these for their
		// side effect: the mesh peer expects the summary on the wire,
		// not as a return value the dispatcher discards. Each one
		// sends through d.send before handing its text back (useful to
		// callers that invoke the handler directly, e.g. tests).
		Status: func() string {
			line := d.status()
			_ = d.send(ctx, line, true)
			return line
		},
		VibrationStatus: func() string {
			line := "VIBRATION_STATUS: n/a"
			_ = d.send(ctx, line, true)
			return line
		},
		BaselineStatus: func() string {
			line := "BASELINE_STATUS: " + d.baseline.Results()
			_ = d.send(ctx, line, true)
			return line
		},
		TriangulateStart: func(sender, target, durationS string) error {
			return d.coordinator.EnterChild(sender, target, durationS)
		},
		TriangulateStop: func() {
			d.coordinator.LeaveChild()
		},
		TriangulateResults: func() string {
			line := d.coordinator.Results()
			_ = d.send(ctx, line, true)
			return line
		},
		TargetData: func(sender, line string) {
			d.coordinator.OnTargetData(sender, line)
		},
		FreeformHit: func(sender, line string) {
			if mac, rssi, isBLE, ok := parseFreeformHit(line); ok {
				d.coordinator.ObserveHit(mac, rssi, isBLE, time.Now())
			}
		},
		TimeSyncReq: func(sender, line string) {
			d.coordinator.OnTimeSyncReq(ctx, sender, line)
		},
		TimeSyncResp: func(sender, line string) {
			d.coordinator.OnTimeSyncResp(sender, line)
		},
		// ERASE_FORCE/ERASE_CANCEL are delegated
		// ("Out of scope (delegated)"): this tree has no secure-erase
		// workflow to hand them to, so they are accepted and ignored
		// rather than dropped at the broker (keeping the mesh ack
		// semantics symmetric with a node that does implement it).
		EraseForce:  func(token string) {},
		EraseCancel: func() {},
	}
}

func persistConfig(ctx context.Context, store *storage.ConfigStore, key, value string) {
	if store == nil {
		return
	}
	if err := store.Set(ctx, key, value); err != nil {
		log.Printf("sentryhopd: config persist %s: %v", key, err)
	}
}

func parseIntList(s string) []int {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// parseFreeformHit extracts {MAC, RSSI, Type} from a "Target: <mac>
// RSSI:<n> ... Type:{WiFi|BLE}" line
// entry. GPS fields, when present, are carried by the TARGET_DATA
// accumulator path instead; the freeform line only needs to decide
// whether to feed the coordinator's own accumulator, which
// ObserveHit already timestamps.
func parseFreeformHit(line string) (mac [6]byte, rssi int, isBLE bool, ok bool) {
	fields := strings.Fields(line)
	var haveMAC bool
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "RSSI:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(f, "RSSI:")); err == nil {
				rssi = n
			}
		case strings.HasPrefix(f, "Type:"):
			isBLE = strings.TrimPrefix(f, "Type:") == "BLE"
		case f == "Target:":
			continue
		default:
			if m, err := domain.ParseMAC(f); err == nil {
				mac = m
				haveMAC = true
			}
		}
	}
	return mac, rssi, isBLE, haveMAC
}
