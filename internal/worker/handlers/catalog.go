// Package handlers provides the named work items that can be submitted over
// HTTP. Each handler turns a JSON payload into a task.WorkFunc.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nadmax/neurosched/internal/task"
	"github.com/rs/zerolog"
)

var ErrUnknownHandler = errors.New("unknown handler")

// Factory validates payload and returns the work to run.
type Factory func(payload json.RawMessage) (task.WorkFunc, error)

// TaskLister is the read side of the scheduler used by report work items.
type TaskLister interface {
	Tasks() []task.Task
}

type Options struct {
	Logger    zerolog.Logger
	Mailer    Mailer
	Lister    TaskLister
	ReportDir string
}

type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog registers the built-in handlers. send_email and report are
// only registered when their dependencies are provided.
func DefaultCatalog(opts Options) *Catalog {
	c := NewCatalog()
	c.Register("sleep", SleepFactory)
	c.Register("fail", FailFactory)
	if opts.Mailer != nil {
		c.Register("send_email", EmailFactory(opts.Mailer, opts.Logger))
	}
	if opts.Lister != nil {
		c.Register("report", NewReportWriter(opts.Lister, opts.ReportDir, opts.Logger).Factory)
	}

	return c
}

func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[name] = f
}

func (c *Catalog) Build(name string, payload json.RawMessage) (task.WorkFunc, error) {
	c.mu.RLock()
	f, ok := c.factories[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}

	return f(payload)
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	return nil
}

type sleepPayload struct {
	DurationMs int `json:"duration_ms"`
}

// maxSleep bounds simulated work so a bad request cannot pin a goroutine.
const maxSleep = 10 * time.Minute

func SleepFactory(payload json.RawMessage) (task.WorkFunc, error) {
	var p sleepPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	d := time.Duration(p.DurationMs) * time.Millisecond
	if d < 0 || d > maxSleep {
		return nil, fmt.Errorf("duration_ms must be between 0 and %d", maxSleep.Milliseconds())
	}

	return func() error {
		time.Sleep(d)
		return nil
	}, nil
}

type failPayload struct {
	Message string `json:"message"`
}

func FailFactory(payload json.RawMessage) (task.WorkFunc, error) {
	var p failPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Message == "" {
		p.Message = "task failed"
	}

	return func() error {
		return errors.New(p.Message)
	}, nil
}
