package sniffer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/sync/errgroup"

	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer/classifier"
	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer/hopping"
	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// RFProfile holds the four tunables an operator selects (or
// customizes) for the radio scheduler.
type RFProfile struct {
	WiFiChannelTimeMS  int
	WiFiScanIntervalMS int
	BLEScanIntervalMS  int
	BLEScanDurationMS  int
}

// RF profile presets.
var (
	RFProfileRelaxed    = RFProfile{300, 8000, 4000, 3000}
	RFProfileBalanced   = RFProfile{160, 6000, 3000, 3000}
	RFProfileAggressive = RFProfile{110, 4000, 2000, 2000}
)

// customClamp bounds an operator-supplied custom profile to the
// documented ranges.
func customClamp(p RFProfile) RFProfile {
	clampI := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return RFProfile{
		WiFiChannelTimeMS:  clampI(p.WiFiChannelTimeMS, 50, 300),
		WiFiScanIntervalMS: clampI(p.WiFiScanIntervalMS, 1000, 10000),
		BLEScanIntervalMS:  clampI(p.BLEScanIntervalMS, 1000, 10000),
		BLEScanDurationMS:  clampI(p.BLEScanDurationMS, 1000, 5000),
	}
}

func profileByName(name string, custom RFProfile) (RFProfile, error) {
	switch name {
	case "relaxed":
		return RFProfileRelaxed, nil
	case "balanced", "":
		return RFProfileBalanced, nil
	case "aggressive":
		return RFProfileAggressive, nil
	case "custom":
		return customClamp(custom), nil
	default:
		return RFProfile{}, fmt.Errorf("unknown RF profile %q", name)
	}
}

// BLEScanner abstracts the BLE advertisement source: a real
// implementation drives a BLE HCI socket (outside this module's
// dependency set), a mock implementation (used under -mock) emits
// nothing. The scheduler owns start/stop of whichever is wired in.
type BLEScanner interface {
	Start(ctx context.Context, out chan<- classifier.BLEAdvertisement) error
	Stop() error
}

// NoopBLEScanner satisfies BLEScanner without touching hardware, the
// default when no BLE adapter is configured.
type NoopBLEScanner struct{}

func (NoopBLEScanner) Start(ctx context.Context, out chan<- classifier.BLEAdvertisement) error {
	return nil
}
func (NoopBLEScanner) Stop() error { return nil }

// Scheduler owns the radios: monitor-mode capture and channel
// hopping on each Wi-Fi interface, a BLE scan loop, and the
// single-in-flight-transition invariant, handing every decoded frame
// to the classifier.
type Scheduler struct {
	mu sync.Mutex

	classifier *classifier.Classifier
	ble        BLEScanner

	profile     RFProfile
	profileName string

	handles    map[string]*pcap.Handle
	hoppers    map[string]*hopping.ChannelHopper
	transition sync.Mutex // held for the duration of any mode transition

	cancel context.CancelFunc
	eg     *errgroup.Group // supervises the hoppers, capture loops and BLE drain goroutine

	running bool
}

// New constructs a Scheduler bound to a classifier and an optional BLE
// scanner (NoopBLEScanner{} if none is wired).
func New(c *classifier.Classifier, ble BLEScanner, rfProfile string) *Scheduler {
	if ble == nil {
		ble = NoopBLEScanner{}
	}
	profile, err := profileByName(rfProfile, RFProfileBalanced)
	if err != nil {
		profile = RFProfileBalanced
	}
	return &Scheduler{
		classifier:  c,
		ble:         ble,
		profile:     profile,
		profileName: rfProfile,
		handles:     make(map[string]*pcap.Handle),
		hoppers:     make(map[string]*hopping.ChannelHopper),
	}
}

// Start opens monitor-mode capture on every interface, starts its
// channel hopper, and launches the BLE scan loop. Wi-Fi promiscuous
// capture, the BLE scan, and the AP interface coexist, each running
// independently once started.
func (s *Scheduler) Start(ctx context.Context, interfaces []string, channels []int) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return domain.ErrRadioBusy
	}
	s.mu.Unlock()

	channels = NormalizeChannels(channels)

	if err := KillConflictingProcesses(); err != nil {
		log.Printf("scheduler: could not stop conflicting services: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	opened := make(map[string]*pcap.Handle, len(interfaces))
	ifaceChannels := make(map[string][]int, len(interfaces))
	for _, iface := range interfaces {
		handle, err := pcap.OpenLive(iface, 2048, true, pcap.BlockForever)
		if err != nil {
			for _, h := range opened {
				h.Close()
			}
			cancel()
			return fmt.Errorf("radio init failed on %s: %w", iface, err)
		}
		opened[iface] = handle

		hop := channels
		if _, supported, capErr := GetInterfaceCapabilities(iface); capErr == nil {
			hop = IntersectChannels(channels, supported)
			if len(hop) != len(channels) {
				log.Printf("scheduler: %s supports %v of requested %v", iface, hop, channels)
			}
		}
		ifaceChannels[iface] = hop
	}

	s.mu.Lock()
	s.cancel = cancel
	s.eg = eg
	s.handles = opened
	s.hoppers = make(map[string]*hopping.ChannelHopper)
	s.running = true
	s.mu.Unlock()

	for iface, handle := range opened {
		hopper := hopping.NewHopper(iface, ifaceChannels[iface], time.Duration(s.profile.WiFiChannelTimeMS)*time.Millisecond, nil)
		s.mu.Lock()
		s.hoppers[iface] = hopper
		s.mu.Unlock()

		eg.Go(func() error {
			hopper.Start()
			return nil
		})
		eg.Go(func() error {
			s.captureLoop(egCtx, iface, handle, hopper)
			return nil
		})
	}

	bleOut := make(chan classifier.BLEAdvertisement, 256)
	if err := s.ble.Start(runCtx, bleOut); err != nil {
		log.Printf("scheduler: BLE scan failed to start: %v", err)
	}
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case adv, ok := <-bleOut:
				if !ok {
					return nil
				}
				s.classifier.ClassifyBLE(adv)
			}
		}
	})

	return nil
}

func (s *Scheduler) captureLoop(ctx context.Context, iface string, handle *pcap.Handle, hopper *hopping.ChannelHopper) {
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			telemetry.FramesCaptured.WithLabelValues(iface, "wifi").Inc()
			rssi, channel := radioMetadata(packet)
			if channel == 0 {
				channel = hopper.GetChannels()[0]
			}
			s.classifier.ClassifyWiFi(packet, rssi, channel, time.Now())
		}
	}
}

// Stop tears down every capture handle and hopper, per the atomic-
// transition invariant: either everything stops or Start's previous
// state is preserved (the scheduler never returns a half-stopped
// state to the caller).
func (s *Scheduler) Stop() error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	handles := s.handles
	hoppers := s.hoppers
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, hopper := range hoppers {
		hopper.Stop()
	}
	s.mu.Lock()
	eg := s.eg
	s.mu.Unlock()
	if eg != nil {
		_ = eg.Wait()
	}
	for _, handle := range handles {
		handle.Close()
	}
	if err := RestoreNetworkServices(); err != nil {
		log.Printf("scheduler: could not restore network services: %v", err)
	}
	return s.ble.Stop()
}

// SetChannels updates every interface's hop list without a restart.
func (s *Scheduler) SetChannels(channels []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels = NormalizeChannels(channels)
	for _, hopper := range s.hoppers {
		hopper.SetChannels(channels)
	}
	return nil
}

// SetRFProfile atomically swaps the active RF profile. This counts
// as a mode transition: only one may be in flight at a time.
func (s *Scheduler) SetRFProfile(profile string) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	next, err := profileByName(profile, s.profile)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.profile = next
	s.profileName = profile
	s.mu.Unlock()

	// Dwell-time changes take effect on the next Start; a hopper's
	// delay is immutable once constructed.
	return nil
}

// radioMetadata pulls signal strength and the capture channel from
// the RadioTap header.
func radioMetadata(packet gopacket.Packet) (rssi, channel int) {
	rssi = -100
	if layer := packet.Layer(layers.LayerTypeRadioTap); layer != nil {
		if rt, ok := layer.(*layers.RadioTap); ok {
			rssi = int(rt.DBMAntennaSignal)
			channel = frequencyToChannel(int(rt.ChannelFrequency))
		}
	}
	return rssi, channel
}

func frequencyToChannel(freqMHz int) int {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz >= 2412 && freqMHz <= 2472:
		return (freqMHz-2412)/5 + 1
	default:
		return 0
	}
}

var _ ports.Sniffer = (*Scheduler)(nil)
