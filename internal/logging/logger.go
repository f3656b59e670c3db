// Package logging provides the structured logger used by every pipeline
// service. Logging, like configuration and metrics registration, sits
// outside the pipeline's core coordination logic but still follows the
// same conventions throughout: JSON in production, text locally, and
// rate-limited error output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Fields is a structured set of key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is the interface every service and collaborator depends on.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	WithComponent(component string) Logger
}

// ProductionLogger is a singleton structured logger: JSON output when
// running under Kubernetes (detected via KUBERNETES_SERVICE_HOST), text
// output otherwise, with Error logs rate-limited to one per second so a
// failing dependency cannot flood stdout.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	errorLimiter *RateLimiter
}

var (
	singleton     *ProductionLogger
	singletonOnce sync.Once
)

// NewLogger returns the process-wide logger, constructing it on first call.
func NewLogger(serviceName string) *ProductionLogger {
	singletonOnce.Do(func() {
		singleton = create(serviceName)
	})
	return singleton
}

func create(serviceName string) *ProductionLogger {
	level := os.Getenv("PIPELINE_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := os.Getenv("PIPELINE_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("PIPELINE_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		serviceName:  serviceName,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(1 * time.Second),
	}
}

// WithComponent returns a shallow copy scoped to a component name (e.g.
// "broker", "memory", "planner") so log lines can be filtered by subsystem.
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := *l
	cp.component = component
	return &cp
}

func (l *ProductionLogger) Debug(msg string, fields Fields) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields Fields) { l.log("INFO", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields Fields) { l.log("WARN", msg, fields) }

func (l *ProductionLogger) Error(msg string, fields Fields) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields Fields) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
		return
	}
	l.logText(timestamp, level, msg, fields)
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields Fields) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if k == "timestamp" || k == "level" || k == "service" || k == "component" || k == "message" {
			continue
		}
		entry[k] = v
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields Fields) {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	var b strings.Builder
	if len(cp) > 0 {
		b.WriteString(" ")
		for _, key := range []string{"plan_id", "task_id", "event_type", "error"} {
			if v, ok := cp[key]; ok {
				b.WriteString(fmt.Sprintf("%s=%v ", key, v))
				delete(cp, key)
			}
		}
		for k, v := range cp {
			b.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}
	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s%s\n", timestamp, level, l.serviceName, l.component, msg, b.String())
}

func (l *ProductionLogger) shouldLog(level string) bool {
	levels := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := levels[l.level]
	msg, ok2 := levels[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

// SetOutput redirects log output; used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// NoOp is a Logger that discards everything; used as a nil-safe default so
// collaborators never need to nil-check their logger field.
type NoOp struct{}

func (NoOp) Debug(string, Fields)        {}
func (NoOp) Info(string, Fields)         {}
func (NoOp) Warn(string, Fields)         {}
func (NoOp) Error(string, Fields)        {}
func (n NoOp) WithComponent(string) Logger { return n }
