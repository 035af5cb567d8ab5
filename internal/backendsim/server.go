// Package backendsim is a scripted stand-in for the device backend. It speaks
// the console's dispatch and stream contract without touching any device.
package backendsim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krisshattanicole/kn3aux-code/internal/metrics"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

// Execution registry
type execution struct {
	events chan simEvent
}

type simEvent struct {
	payload []byte
	abort   bool
}

// Status is served on the status endpoint.
type Status struct {
	Installed bool   `json:"installed"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Server struct {
	mu      sync.RWMutex
	scripts map[string]Script
	calls   map[string][]map[string]any

	execMu     sync.RWMutex
	executions map[string]*execution

	mqttClient     mqtt.Client
	mqttPrefix     string
	mqttStartDelay time.Duration

	status        Status
	metricsEvery  time.Duration
	retainStreams time.Duration
}

type Option func(*Server)

// WithMQTT also publishes every stream frame to prefix+<stream id>. MQTT has
// no replay, so publishing starts after startDelay.
func WithMQTT(client mqtt.Client, prefix string, startDelay time.Duration) Option {
	return func(s *Server) {
		s.mqttClient = client
		s.mqttPrefix = prefix
		s.mqttStartDelay = startDelay
	}
}

func WithStatus(st Status) Option {
	return func(s *Server) { s.status = st }
}

func WithMetricsInterval(d time.Duration) Option {
	return func(s *Server) { s.metricsEvery = d }
}

func New(opts ...Option) *Server {
	s := &Server{
		scripts:    DefaultScripts(),
		calls:      make(map[string][]map[string]any),
		executions: make(map[string]*execution),
		status: Status{
			Installed: true,
			Available: true,
			Path:      "/opt/mtkclient",
			Version:   "1.6.0",
		},
		metricsEvery:  2 * time.Second,
		retainStreams: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle replaces the script of one action.
func (s *Server) Handle(name string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = script
}

// Calls returns the parameters of every dispatch of name, in order.
func (s *Server) Calls(name string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]map[string]any(nil), s.calls[name]...)
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors.Default())

	api := r.Group("/api/mtk")
	{
		api.GET("/status", s.getStatus)
		api.GET("/stream/:id", s.streamLogs)
		api.POST("/:name", s.executeAction)
	}
	r.GET("/ws/metrics", s.metricsFeed)
	r.GET("/health", func(c *gin.Context) {
		if s.mqttClient != nil && !s.mqttClient.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": "MQTT not connected"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(started)).
			Msg("backendsim request")
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status)
}

func (s *Server) executeAction(c *gin.Context) {
	name := c.Param("name")

	s.mu.Lock()
	script, ok := s.scripts[name]
	var params map[string]any
	if err := c.ShouldBindJSON(&params); err != nil {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	s.calls[name] = append(s.calls[name], params)
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Action not found: %s", name)})
		return
	}
	if script.Error != "" {
		status := script.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": script.Error})
		return
	}

	body := gin.H{"success": true}
	if script.Message != "" {
		body["message"] = script.Message
	}
	for k, v := range script.Inline {
		body[k] = v
	}
	if !script.streams() {
		c.JSON(http.StatusOK, body)
		return
	}

	execID := uuid.New().String()
	state := s.registerExecution(execID)
	go s.produce(execID, state, script)

	body["stream_id"] = execID
	c.JSON(http.StatusOK, body)
}

func (s *Server) registerExecution(id string) *execution {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	state := &execution{
		events: make(chan simEvent, 1000),
	}
	s.executions[id] = state
	return state
}

func (s *Server) getExecution(id string) *execution {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	return s.executions[id]
}

func (s *Server) removeExecution(id string) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	delete(s.executions, id)
}

func (s *Server) produce(execID string, state *execution, script Script) {
	defer func() {
		time.AfterFunc(s.retainStreams, func() { s.removeExecution(execID) })
	}()
	if s.mqttClient != nil && s.mqttStartDelay > 0 {
		time.Sleep(s.mqttStartDelay)
	}

	emit := func(payload []byte) {
		state.events <- simEvent{payload: payload}
		s.publish(execID, payload)
	}
	for _, raw := range script.Raw {
		emit([]byte(raw))
		time.Sleep(script.Delay)
	}
	for _, line := range script.Lines {
		payload, _ := json.Marshal(opconsole.StreamFrame{Output: line})
		emit(payload)
		time.Sleep(script.Delay)
	}
	switch {
	case script.Hang:
		return
	case script.Abort:
		state.events <- simEvent{abort: true}
	default:
		payload, _ := json.Marshal(map[string]bool{"complete": true})
		emit(payload)
	}
	close(state.events)
}

func (s *Server) publish(execID string, payload []byte) {
	if s.mqttClient == nil {
		return
	}
	token := s.mqttClient.Publish(s.mqttPrefix+execID, 1, false, payload)
	token.Wait()
	if token.Error() != nil {
		log.Warn().Err(token.Error()).Str("stream_id", execID).Msg("failed to publish frame")
	}
}

func (s *Server) streamLogs(c *gin.Context) {
	execID := c.Param("id")
	state := s.getExecution(execID)
	if state == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Execution not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-state.events:
			if !ok || ev.abort {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", ev.payload)
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) metricsFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	walk := metrics.NewRandomWalk(uint64(time.Now().UnixNano()))
	ctx := c.Request.Context()
	ticker := time.NewTicker(s.metricsEvery)
	defer ticker.Stop()
	for {
		snap, err := walk.Next(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
