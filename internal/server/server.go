package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/gnssd/internal/gps"
	"github.com/shaunagostinho/gnssd/internal/logger"
	"github.com/shaunagostinho/gnssd/internal/nmea"
)

// Server exposes a GNSS session over HTTP and streams its output to
// WebSocket clients. It is the session's Callback; callbacks never call
// back into the session.
type Server struct {
	cfg     *Config
	session *Session
	webFS   fs.FS
	logger  *logger.Logger
	sinks   gps.Handlers

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	infoMu       sync.RWMutex
	capabilities []string
	systemInfo   SystemInfo

	// Odometer: persistent distance tracking
	odoMu        sync.Mutex
	odoTotal     float64 // Total km
	odoTrip      float64 // Trip km (resettable)
	lastGPSLat   float64
	lastGPSLon   float64
	lastGPSValid bool
	odoPath      string // File path for persistence
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Fix        *nmea.Fix        `json:"fix,omitempty"`
	Satellites []nmea.Satellite `json:"satellites,omitempty"`
	NMEA       *NMEAData        `json:"nmea,omitempty"`
	Status     Status           `json:"status,omitempty"`
	Info       *InfoData        `json:"info,omitempty"`
	Odo        *OdoData         `json:"odo,omitempty"`
	Stamp      int64            `json:"stamp"` // Unix ms
}

// NMEAData carries one raw sentence.
type NMEAData struct {
	TimestampMs int64  `json:"timestampMs"`
	Sentence    string `json:"sentence"`
}

// InfoData describes the session to clients.
type InfoData struct {
	Capabilities     []string   `json:"capabilities"`
	SystemInfo       SystemInfo `json:"systemInfo"`
	Running          bool       `json:"running"`
	MinFixIntervalMs int64      `json:"minFixIntervalMs"`
	Driver           string     `json:"driver"`
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	Total float64 `json:"total"` // km
	Trip  float64 `json:"trip"`  // km
}

// New creates a new Server. Sinks receive every session event after the
// server has handled it.
func New(cfg *Config, session *Session, webFS fs.FS, sinks ...gps.Handler) *Server {
	odoPath := filepath.Join(filepath.Dir(cfg.path), "odometer.dat")
	if cfg.path == "" {
		odoPath = "/etc/gnssd/odometer.dat"
	}

	s := &Server{
		cfg:     cfg,
		session: session,
		webFS:   webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
			RawNMEA:    cfg.Logging.RawNMEA,
		}),
		sinks:   sinks,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		odoPath: odoPath,
	}
	s.loadOdometer()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Session API
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/position-mode", s.handlePositionMode)
	mux.HandleFunc("/api/fix", s.handleFix)
	mux.HandleFunc("/api/satellites", s.handleSatellites)
	mux.HandleFunc("/api/extensions/", s.handleExtension)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Odometer API
	mux.HandleFunc("/api/odo/reset-trip", s.handleResetTrip)

	return mux
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Persist odometer every 30 seconds
	odoTicker := time.NewTicker(30 * time.Second)
	go func() {
		defer odoTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-odoTicker.C:
				s.saveOdometer()
			}
		}
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.saveOdometer()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close saves the odometer and closes the log files. Stop the session
// first so nothing is recorded after Close.
func (s *Server) Close() {
	s.saveOdometer()
	s.logger.Close()
}

// HandleFix updates the odometer, records and broadcasts the fix.
func (s *Server) HandleFix(fix nmea.Fix) {
	// Only accumulate if moving (~1 km/h)
	if fix.Valid && fix.Has(nmea.HasLatLong) && fix.Speed > 0.28 {
		s.updateOdometer(fix.Latitude, fix.Longitude)
	}
	s.broadcast(Frame{Fix: &fix, Odo: s.odometer(), Stamp: fix.TimestampMs})
	s.logger.HandleFix(fix)
	s.sinks.HandleFix(fix)
}

func (s *Server) HandleSentence(ts int64, sentence string) {
	s.broadcast(Frame{NMEA: &NMEAData{TimestampMs: ts, Sentence: sentence}, Stamp: ts})
	s.logger.HandleSentence(ts, sentence)
	s.sinks.HandleSentence(ts, sentence)
}

func (s *Server) HandleSatellites(sats []nmea.Satellite) {
	s.broadcast(Frame{Satellites: sats, Stamp: time.Now().UnixMilli()})
	s.logger.HandleSatellites(sats)
	s.sinks.HandleSatellites(sats)
}

func (s *Server) HandleCapabilities(caps []string) {
	s.infoMu.Lock()
	s.capabilities = append([]string(nil), caps...)
	s.infoMu.Unlock()
	log.Printf("[server] capabilities: %s", strings.Join(caps, ","))
}

func (s *Server) HandleSystemInfo(info SystemInfo) {
	s.infoMu.Lock()
	s.systemInfo = info
	s.infoMu.Unlock()
	log.Printf("[server] system info: %s (%d)", info.Name, info.Year)
}

func (s *Server) HandleStatus(status Status) {
	s.broadcast(Frame{Status: status, Stamp: time.Now().UnixMilli()})
}

func (s *Server) info() *InfoData {
	s.infoMu.RLock()
	caps := append([]string(nil), s.capabilities...)
	sys := s.systemInfo
	s.infoMu.RUnlock()

	s.cfg.mu.RLock()
	driver := s.cfg.GPS.Driver
	s.cfg.mu.RUnlock()

	return &InfoData{
		Capabilities:     caps,
		SystemInfo:       sys,
		Running:          s.session.Running(),
		MinFixIntervalMs: s.session.MinFixInterval().Milliseconds(),
		Driver:           driver,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Send initial session info + odometer + last fix
	hello := Frame{
		Info:  s.info(),
		Odo:   s.odometer(),
		Stamp: time.Now().UnixMilli(),
	}
	if fix := s.session.Fix(); fix.Valid {
		hello.Fix = &fix
	}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, http.StatusOK, s.info())
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if err := s.session.Start(); err != nil {
		log.Printf("[server] session start failed: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.session.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type positionMode struct {
	MinIntervalMs *int64 `json:"minIntervalMs"`
}

func (s *Server) handlePositionMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req positionMode
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if req.MinIntervalMs == nil || *req.MinIntervalMs < 0 {
		http.Error(w, "minIntervalMs must be a non-negative number", 400)
		return
	}
	s.session.SetPositionMode(time.Duration(*req.MinIntervalMs) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]int64{"minIntervalMs": s.session.MinFixInterval().Milliseconds()})
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Fix())
}

func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	sats := s.session.Satellites()
	if sats == nil {
		sats = []nmea.Satellite{}
	}
	writeJSON(w, http.StatusOK, sats)
}

func (s *Server) handleExtension(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/extensions/")
	supported, known := Extension(name)
	if !known {
		http.NotFound(w, r)
		return
	}
	status := http.StatusOK
	if !supported {
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]any{"name": name, "supported": supported})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		before := s.cfg.MinFixInterval()
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Apply the fix interval live
		if iv := s.cfg.MinFixInterval(); iv != before {
			s.session.SetPositionMode(iv)
		}
		s.cfg.mu.RLock()
		logging := s.cfg.Logging.Enabled
		s.cfg.mu.RUnlock()
		s.logger.SetEnabled(logging)

		// Broadcast updated session info
		s.broadcast(Frame{Info: s.info(), Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.odoMu.Lock()
	s.odoTrip = 0
	s.odoMu.Unlock()
	s.saveOdometer()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) odometer() *OdoData {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()
	return &OdoData{Total: math.Round(s.odoTotal*10) / 10, Trip: math.Round(s.odoTrip*10) / 10}
}

// updateOdometer accumulates distance from position changes.
func (s *Server) updateOdometer(lat, lon float64) {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()

	if !s.lastGPSValid {
		// First valid fix: seed position, don't accumulate
		s.lastGPSLat = lat
		s.lastGPSLon = lon
		s.lastGPSValid = true
		return
	}

	// Haversine distance
	dist := haversineKm(s.lastGPSLat, s.lastGPSLon, lat, lon)

	// Sanity check: ignore jumps > 500m per fix (GPS glitch)
	if dist > 0.5 {
		s.lastGPSLat = lat
		s.lastGPSLon = lon
		return
	}

	// Minimum movement threshold: ~2 meters
	if dist > 0.002 {
		s.odoTotal += dist
		s.odoTrip += dist
		s.lastGPSLat = lat
		s.lastGPSLon = lon
	}
}

// haversineKm calculates the great-circle distance between two lat/lon points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius km
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// loadOdometer reads persisted odometer values from disk.
func (s *Server) loadOdometer() {
	data, err := os.ReadFile(s.odoPath)
	if err != nil {
		log.Printf("[odo] no saved data at %s (starting at 0)", s.odoPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) >= 1 {
		if v, err := strconv.ParseFloat(parts[0], 64); err == nil {
			s.odoTotal = v
		}
	}
	if len(parts) >= 2 {
		if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
			s.odoTrip = v
		}
	}
	log.Printf("[odo] loaded: total=%.1f km, trip=%.1f km", s.odoTotal, s.odoTrip)
}

// saveOdometer persists odometer values to disk.
func (s *Server) saveOdometer() {
	s.odoMu.Lock()
	total := s.odoTotal
	trip := s.odoTrip
	s.odoMu.Unlock()

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(s.odoPath), 0755)

	data := fmt.Sprintf("%.6f\n%.6f\n", total, trip)
	if err := os.WriteFile(s.odoPath, []byte(data), 0644); err != nil {
		log.Printf("[odo] save failed: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
