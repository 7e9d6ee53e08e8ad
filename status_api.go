package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatusServer exposes the operator surface: a JSON status endpoint,
// Prometheus metrics, and a websocket feed that pushes alerts the moment
// they are forwarded.
type StatusServer struct {
	monitor *EASMonitor
	gpio    *GPIOController
	station string
	server  *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// SystemStatus is the host health block of the status document.
type SystemStatus struct {
	Hostname    string  `json:"hostname"`
	UptimeSec   uint64  `json:"uptime_seconds"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	MemUsedMB   uint64  `json:"mem_used_mb"`
	Goroutines  int     `json:"goroutines"`
	GoVersion   string  `json:"go_version"`
	ServerTime  string  `json:"server_time"`
}

// StationStatus is the full /api/status document.
type StationStatus struct {
	Station string        `json:"station"`
	Monitor MonitorStatus `json:"monitor"`
	GPIO    []PinStatus   `json:"gpio,omitempty"`
	System  SystemStatus  `json:"system"`
}

// NewStatusServer builds the server; Start binds it.
func NewStatusServer(addr, station string, monitor *EASMonitor, gpio *GPIOController) *StatusServer {
	s := &StatusServer{
		monitor: monitor,
		gpio:    gpio,
		station: station,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboard runs on the LAN behind the station firewall.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/alerts", s.handleAlertsWS)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Runs in its own goroutine.
func (s *StatusServer) Start() {
	go func() {
		log.Printf("[Status] listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Status] server error: %v", err)
		}
	}()
}

// Shutdown stops the listener and closes websocket clients.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := StationStatus{
		Station: s.station,
		Monitor: s.monitor.Status(),
		System:  collectSystemStatus(),
	}
	if s.gpio != nil {
		status.GPIO = s.gpio.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("[Status] encoding status: %v", err)
	}
}

func collectSystemStatus() SystemStatus {
	st := SystemStatus{
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	}
	if info, err := host.Info(); err == nil {
		st.Hostname = info.Hostname
		st.UptimeSec = info.Uptime
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		st.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemPercent = vm.UsedPercent
		st.MemUsedMB = vm.Used / 1024 / 1024
	}
	return st
}

// handleAlertsWS upgrades and registers a client. Clients are write-only;
// reads are drained just to notice disconnects.
func (s *StatusServer) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Status] websocket upgrade: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("[Status] websocket client %s connected (%d total)", conn.RemoteAddr(), n)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()
}

func (s *StatusServer) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	if s.clients[conn] {
		delete(s.clients, conn)
		conn.Close()
	}
	s.mu.Unlock()
}

// BroadcastAlert pushes one alert to every connected websocket client.
// Registered as a monitor AlertHandler.
func (s *StatusServer) BroadcastAlert(alert *Alert) {
	data, err := json.Marshal(alert)
	if err != nil {
		log.Printf("[Status] marshaling alert: %v", err)
		return
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.dropClient(c)
		}
	}
}
