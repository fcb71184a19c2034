// Package streaming drives the Art-Net sender and snapshot receiver: a
// paced DMX broadcast loop, a periodic node-poll loop, and a UDP
// snapshot capture used to seed scene recordings.
package streaming

import (
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Kortesaas/venue-light-controller/internal/lighting"
	"github.com/Kortesaas/venue-light-controller/pkg/artnet"
)

// minFrameInterval is the floor below which the sender refuses to spin
// faster, even when fps is unbounded or misconfigured.
const minFrameInterval = time.Millisecond

var (
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighting_artnet_frames_sent_total",
		Help: "ArtDMX packets sent, by universe.",
	}, []string{"universe"})
	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighting_artnet_poll_errors_total",
		Help: "ArtPoll send failures.",
	})
	sendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighting_artnet_send_errors_total",
		Help: "ArtDMX send failures.",
	})
	engineRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lighting_artnet_engine_running",
		Help: "1 while the streaming engine is running, 0 otherwise.",
	})
)

// Payload is a snapshot of universe -> 512-byte DMX values, as produced
// by the playback mixer.
type Payload map[int][512]byte

// Engine owns the Art-Net sender and poll sockets for a single running
// stream. A zero Engine is ready to use.
type Engine struct {
	mu sync.Mutex

	running bool
	payload Payload

	localIP  string
	nodeIP   string
	fps      float64
	pollSecs float64

	dmxConn  *net.UDPConn
	pollConn *net.UDPConn

	broadcastAddr string
	sequence      byte

	stopChan chan struct{}
	workers  *errgroup.Group
}

// New creates an idle Engine.
func New() *Engine {
	return &Engine{}
}

// IsRunning reports whether the engine currently owns sockets and is
// broadcasting.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins streaming payload at fps, broadcasting to the subnet
// derived from localIP and polling nodeIP every pollIntervalSeconds. It
// is idempotent: if already running, the previous workers are stopped
// and restarted with the new payload and settings.
func (e *Engine) Start(payload Payload, localIP, nodeIP string, fps, pollIntervalSeconds float64) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.Stop()
		e.mu.Lock()
	}
	defer e.mu.Unlock()

	dmxConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return lighting.New("streaming.Start", lighting.ProtocolFailure, err)
	}
	pollConn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		_ = dmxConn.Close()
		return lighting.New("streaming.Start", lighting.ProtocolFailure, err)
	}

	e.dmxConn = dmxConn
	e.pollConn = pollConn
	e.payload = clonePayload(payload)
	e.localIP = localIP
	e.nodeIP = nodeIP
	e.fps = fps
	e.pollSecs = pollIntervalSeconds
	e.broadcastAddr = broadcastFromLocal(localIP)
	e.sequence = 0
	e.stopChan = make(chan struct{})
	e.running = true

	log.Printf("🎭 streaming engine started: broadcasting to %s:%d, polling %s", e.broadcastAddr, artnet.DefaultPort, nodeIP)
	engineRunning.Set(1)

	g := &errgroup.Group{}
	g.Go(e.senderLoop)
	g.Go(e.pollLoop)
	e.workers = g

	return nil
}

// Update atomically replaces the payload the sender loop broadcasts.
// The next frame uses the new payload in full; frames are never a mix
// of old and new universes.
func (e *Engine) Update(payload Payload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payload = clonePayload(payload)
}

// Stop idempotently signals both workers to exit and closes the
// sockets, joining with a bounded timeout.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	workers := e.workers
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Printf("📡 streaming engine: worker join timed out after 2s")
	}

	e.mu.Lock()
	if e.dmxConn != nil {
		_ = e.dmxConn.Close()
		e.dmxConn = nil
	}
	if e.pollConn != nil {
		_ = e.pollConn.Close()
		e.pollConn = nil
	}
	e.mu.Unlock()

	engineRunning.Set(0)
	log.Printf("🎭 streaming engine stopped")
}

// senderLoop paces ArtDMX output until stopChan closes. It never
// returns a non-nil error; the error return exists only to satisfy
// errgroup.Group.Go, the bounded-join mechanism Stop uses.
func (e *Engine) senderLoop() error {
	e.mu.Lock()
	fps := e.fps
	conn := e.dmxConn
	broadcastAddr := e.broadcastAddr
	e.mu.Unlock()

	interval := minFrameInterval
	paced := fps > 0
	if paced {
		interval = time.Duration(float64(time.Second) / fps)
		if interval < minFrameInterval {
			interval = minFrameInterval
		}
	}

	dest := &net.UDPAddr{IP: net.ParseIP(broadcastAddr), Port: artnet.DefaultPort}
	nextFrame := time.Now()

	for {
		select {
		case <-e.stopChan:
			return nil
		default:
		}

		now := time.Now()
		if now.Before(nextFrame) {
			select {
			case <-e.stopChan:
				return nil
			case <-time.After(nextFrame.Sub(now)):
			}
		}

		e.sendFrame(conn, dest)
		nextFrame = nextFrame.Add(interval)

		// If we've fallen far behind (e.g. a slow send), don't try to
		// catch up with a burst; resync to now plus one interval.
		if time.Now().After(nextFrame.Add(interval)) {
			nextFrame = time.Now().Add(interval)
		}
	}
}

func (e *Engine) sendFrame(conn *net.UDPConn, dest *net.UDPAddr) {
	e.mu.Lock()
	payload := e.payload
	e.mu.Unlock()

	universes := make([]int, 0, len(payload))
	for u := range payload {
		universes = append(universes, u)
	}
	sort.Ints(universes)

	for _, universe := range universes {
		values := payload[universe]

		e.mu.Lock()
		e.sequence++
		seq := e.sequence
		e.mu.Unlock()

		packet := artnet.BuildDMXPacket(universe, values[:], seq)
		if _, err := conn.WriteToUDP(packet, dest); err != nil {
			sendErrors.Inc()
			log.Printf("📡 streaming engine: send error for universe %d: %v", universe, err)
			continue
		}
		framesSent.WithLabelValues(strconv.Itoa(universe)).Inc()
	}
}

// pollLoop sends periodic ArtPoll packets until stopChan closes. Like
// senderLoop, its error return exists only for errgroup.Group.Go.
func (e *Engine) pollLoop() error {
	e.mu.Lock()
	conn := e.pollConn
	broadcastAddr := e.broadcastAddr
	nodeIP := e.nodeIP
	pollSecs := e.pollSecs
	e.mu.Unlock()

	if pollSecs <= 0 {
		pollSecs = 5
	}
	interval := time.Duration(pollSecs * float64(time.Second))

	broadcastDest := &net.UDPAddr{IP: net.ParseIP(broadcastAddr), Port: artnet.DefaultPort}
	nodeDest := &net.UDPAddr{IP: net.ParseIP(nodeIP), Port: artnet.DefaultPort}
	packet := artnet.BuildPollPacket()

	e.sendPoll(conn, broadcastDest, packet)
	e.sendPoll(conn, nodeDest, packet)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return nil
		case <-ticker.C:
			e.sendPoll(conn, broadcastDest, packet)
			e.sendPoll(conn, nodeDest, packet)
		}
	}
}

func (e *Engine) sendPoll(conn *net.UDPConn, dest *net.UDPAddr, packet []byte) {
	if _, err := conn.WriteToUDP(packet, dest); err != nil {
		pollErrors.Inc()
		log.Printf("📡 streaming engine: poll send error to %s: %v", dest, err)
	}
}

// RecordSnapshots binds a receive socket to UDP port 6454 on all
// interfaces and accumulates the latest observed value for every channel
// of every target universe until durationSeconds has elapsed. Universes
// never observed come back as all zeros. The caller must have already
// stopped the streaming engine, since port 6454 is single-owner.
func RecordSnapshots(universes []int, durationSeconds float64) (Payload, error) {
	addr := &net.UDPAddr{Port: artnet.DefaultPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, lighting.New("streaming.RecordSnapshots", lighting.ProtocolFailure, err)
	}
	defer func() { _ = conn.Close() }()

	targets := make(map[int]bool, len(universes))
	result := make(Payload, len(universes))
	for _, u := range universes {
		targets[u] = true
		result[u] = [512]byte{}
	}

	deadline := time.Now().Add(time.Duration(durationSeconds * float64(time.Second)))
	buf := make([]byte, 2048)

	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		readTimeout := 100 * time.Millisecond
		if remaining < readTimeout {
			readTimeout = remaining
		}
		if readTimeout <= 0 {
			break
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			continue
		}

		frame, err := artnet.ParseDMXPacket(buf[:n])
		if err != nil {
			continue
		}
		if !targets[frame.Universe] {
			continue
		}
		accumulator := result[frame.Universe]
		copy(accumulator[:frame.Length], frame.Channels[:frame.Length])
		result[frame.Universe] = accumulator
	}

	return result, nil
}

// broadcastFromLocal derives the subnet broadcast address from a local
// IPv4 address of the form A.B.C.D, producing A.255.255.255; any other
// shape falls back to the limited broadcast address.
func broadcastFromLocal(localIP string) string {
	parts := strings.Split(localIP, ".")
	if len(parts) != 4 {
		return "255.255.255.255"
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return "255.255.255.255"
		}
	}
	return parts[0] + ".255.255.255"
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for u, v := range p {
		out[u] = v
	}
	return out
}
