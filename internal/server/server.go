// Package server exposes the story service over HTTP with gin.
//
// Runs are started asynchronously: POST returns 202 with a run ID, the
// run can be polled, followed as a server-sent event stream or cancelled.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pixstory/pkg/logging"
	"github.com/Sternrassler/pixstory/pkg/metrics"
	"github.com/Sternrassler/pixstory/pkg/orchestrator"
	"github.com/Sternrassler/pixstory/pkg/pipeline"
	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/story"
	"github.com/Sternrassler/pixstory/pkg/tools"
)

// Request headers carrying per-caller credentials.
const (
	HeaderUserID      = "X-User-ID"
	HeaderProviderKey = "X-Provider-Key"
)

// Config holds server configuration.
type Config struct {
	// Retention is how long finished runs stay queryable.
	Retention time.Duration

	// Credentials is the fallback when request headers carry none.
	Credentials orchestrator.Credentials

	// Redis is pinged by /ready when set.
	Redis *redis.Client
}

// Server is the HTTP API.
type Server struct {
	svc    *story.Service
	config Config
	runs   *registry
	hub    *Hub
	router *gin.Engine
	logger zerolog.Logger
}

// New creates the server and its routes.
func New(svc *story.Service, cfg Config) *Server {
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}

	s := &Server{
		svc:    svc,
		config: cfg,
		runs:   newRegistry(cfg.Retention),
		hub:    NewHub(),
		logger: logging.NewLogger("server"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/pixstory", s.startPixStory)
	v1.POST("/dreamlens", s.startDreamLens)
	v1.POST("/actions", s.suggestActions)
	v1.GET("/runs/:id", s.getRun)
	v1.GET("/runs/:id/events", s.runEvents)
	v1.DELETE("/runs/:id", s.cancelRun)
	v1.GET("/tools", s.listTools)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels every run that is still in progress.
func (s *Server) Shutdown() {
	s.runs.cancelAll()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) ready(c *gin.Context) {
	if s.config.Redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.config.Redis.Ping(ctx).Err(); err != nil {
			c.String(http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

// headerCredentials takes identity and key from the request, falling back
// to the configured source for whatever is missing.
type headerCredentials struct {
	id       string
	key      string
	fallback orchestrator.Credentials
}

func (h headerCredentials) Identity() string {
	if h.id != "" || h.fallback == nil {
		return h.id
	}
	return h.fallback.Identity()
}

func (h headerCredentials) ProviderKey() string {
	if h.key != "" || h.fallback == nil {
		return h.key
	}
	return h.fallback.ProviderKey()
}

func (s *Server) credentials(c *gin.Context) orchestrator.Credentials {
	id := strings.TrimSpace(c.GetHeader(HeaderUserID))
	key := strings.TrimSpace(c.GetHeader(HeaderProviderKey))
	if id == "" && key == "" && s.config.Credentials != nil {
		return s.config.Credentials
	}
	return headerCredentials{id: id, key: key, fallback: s.config.Credentials}
}

// runContext detaches a run from the request that started it.
func runContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

type pixStoryBody struct {
	Images        []string `json:"images"`
	CharacterName string   `json:"character_name"`
	Gender        string   `json:"gender"`
	Genre         string   `json:"genre"`
}

func (s *Server) startPixStory(c *gin.Context) {
	var body pixStoryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}

	images := make([]provider.Image, len(body.Images))
	for i, url := range body.Images {
		images[i] = provider.Image{DataURL: url}
	}

	run, err := s.svc.StartPixStory(runContext(c), story.PixStoryRequest{
		Images:        images,
		CharacterName: body.CharacterName,
		Gender:        body.Gender,
		Genre:         body.Genre,
		Credentials:   s.credentials(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	e := track(s, run, func(res *pipeline.Result[string, string]) any {
		return story.NewPixStoryResult(res)
	})
	c.JSON(http.StatusAccepted, gin.H{"run_id": e.id})
}

type dreamLensBody struct {
	Actions  []string `json:"actions"`
	UserName string   `json:"user_name"`
	JobTitle string   `json:"job_title"`
	Genre    string   `json:"genre"`
}

func (s *Server) startDreamLens(c *gin.Context) {
	var body dreamLensBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}

	run, err := s.svc.StartDreamLens(runContext(c), story.DreamLensRequest{
		Actions:     body.Actions,
		UserName:    body.UserName,
		JobTitle:    body.JobTitle,
		Genre:       body.Genre,
		Credentials: s.credentials(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	e := track(s, run, func(res *pipeline.Result[provider.Illustration, string]) any {
		return story.NewDreamLensResult(res)
	})
	c.JSON(http.StatusAccepted, gin.H{"run_id": e.id})
}

type actionsBody struct {
	JobTitle string `json:"job_title"`
}

func (s *Server) suggestActions(c *gin.Context) {
	var body actionsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}

	actions, err := s.svc.SuggestActions(c.Request.Context(), body.JobTitle, s.credentials(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// errorBody is the JSON shape of every error.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Class string `json:"class,omitempty"`
	Index *int   `json:"index,omitempty"`
}

func newErrorBody(err error) *errorBody {
	body := &errorBody{Error: err.Error()}

	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		body.Kind = string(oerr.Kind)
		body.Class = string(oerr.Class)
		if oerr.Index >= 0 {
			index := oerr.Index
			body.Index = &index
		}
		return body
	}
	if class := provider.ClassOf(err); class != provider.ErrorClassUnknown {
		body.Class = string(class)
	}
	return body
}

// statusFor maps an error on a synchronous call to an HTTP status.
func statusFor(err error) int {
	if orchestrator.KindOf(err) == orchestrator.KindInvalidRequest {
		return http.StatusBadRequest
	}
	switch provider.ClassOf(err) {
	case provider.ErrorClassRateLimit:
		return http.StatusTooManyRequests
	case provider.ErrorClassTimeout:
		return http.StatusGatewayTimeout
	case provider.ErrorClassClient, provider.ErrorClassContent:
		return http.StatusUnprocessableEntity
	case provider.ErrorClassCancelled:
		return 499
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, newErrorBody(err))
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, &errorBody{
		Error: fmt.Sprintf("invalid body: %v", err),
		Kind:  string(orchestrator.KindInvalidRequest),
	})
}

// runStatus is the JSON view of a run.
type runStatus struct {
	RunID     string     `json:"run_id"`
	Pipeline  string     `json:"pipeline"`
	State     string     `json:"state"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Done      bool       `json:"done"`
	Result    any        `json:"result,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
}

func (e *runEntry) status() runStatus {
	st := runStatus{
		RunID:     e.id,
		Pipeline:  e.pipeline,
		State:     string(e.state()),
		Completed: e.completed(),
		Total:     e.total,
	}

	select {
	case <-e.done:
	default:
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st.Done = true
	st.Result = e.result
	if e.err != nil {
		st.Error = newErrorBody(e.err)
	}
	return st
}

func (s *Server) lookup(c *gin.Context) (*runEntry, bool) {
	e, ok := s.runs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, &errorBody{Error: "run not found"})
	}
	return e, ok
}

func (s *Server) getRun(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.status())
}

func (s *Server) cancelRun(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}
	e.cancel()
	c.JSON(http.StatusAccepted, gin.H{"run_id": e.id})
}

// runEvents streams "progress" events and one terminal "result" or
// "error" event, then closes the stream.
func (s *Server) runEvents(c *gin.Context) {
	e, ok := s.lookup(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgCh := make(chan []byte, e.total+1)
	s.hub.Subscribe(msgCh, e.id)
	defer s.hub.Unsubscribe(msgCh, e.id)

	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, ": connected\n\n")
	st := e.status()
	sent := st.Completed
	writeEvent(c.Writer, "progress", mustJSON(orchestrator.Progress{Completed: sent, Total: st.Total}))
	flusher.Flush()

	notify := c.Request.Context().Done()
	for {
		select {
		case <-notify:
			return
		case msg := <-msgCh:
			// The snapshot may already be ahead of messages still queued
			// for publishing.
			p, ok := newerProgress(msg, sent)
			if !ok {
				continue
			}
			sent = p.Completed
			writeEvent(c.Writer, "progress", msg)
			flusher.Flush()
		case <-e.done:
			st := e.status()
			if st.Error != nil {
				writeEvent(c.Writer, "error", mustJSON(st.Error))
			} else {
				writeEvent(c.Writer, "result", mustJSON(st.Result))
			}
			flusher.Flush()
			return
		}
	}
}

type toolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// listTools describes the agent tools backed by this server's service.
func (s *Server) listTools(c *gin.Context) {
	all := tools.All(s.svc)
	out := make([]toolDescriptor, 0, len(all))
	for _, t := range all {
		info, err := t.Info(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, &errorBody{Error: err.Error()})
			return
		}
		out = append(out, toolDescriptor{Name: info.Name, Description: info.Desc})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

// newerProgress decodes msg and reports whether it advances past sent.
func newerProgress(msg []byte, sent int) (orchestrator.Progress, bool) {
	var p orchestrator.Progress
	if err := json.Unmarshal(msg, &p); err != nil {
		return p, false
	}
	return p, p.Completed > sent
}

func writeEvent(w gin.ResponseWriter, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}
