// Package tools implements the sandboxed local tool registry/executor
// contract, carried "verbatim" per spec.md §9's design note, grounded on
// original_source/shared/tools/executor.py and
// original_source/services/dev_service/tools.py.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/admadc/pipeline/internal/apperrors"
)

// Result is the tool-execution contract spec.md §9 says to preserve:
// execute(name, args) -> {success, output?, error?, retries, duration}.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Retries  int
	Duration time.Duration
}

// Func is the executable body of a registered tool.
type Func func(ctx context.Context, args map[string]string) (string, error)

// Definition is one registered tool's metadata, mirroring
// dev_service/tools.py's per-tool timeout_s/max_retries/sandboxed/tags.
type Definition struct {
	Name       string
	Fn         Func
	TimeoutS   time.Duration
	MaxRetries int
	Sandboxed  bool
	Tags       []string
}

// Registry holds registered tools, guarded by a lock because registration
// may happen off any single event loop (spec.md §5: "The tool registry is
// guarded by a lock because tool registration may happen off the event
// loop.").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.TimeoutS == 0 {
		def.TimeoutS = 10 * time.Second
	}
	if def.MaxRetries == 0 {
		def.MaxRetries = 1
	}
	r.tools[def.Name] = def
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Execute runs tool `name` with args, retrying up to its MaxRetries and
// bounding each attempt to TimeoutS, per shared/tools/executor.py's
// execute_tool.
func Execute(ctx context.Context, r *Registry, name string, args map[string]string) Result {
	def, ok := r.Get(name)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < def.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, def.TimeoutS)
		out, err := def.Fn(callCtx, args)
		cancel()
		if err == nil {
			return Result{Success: true, Output: out, Retries: attempt, Duration: time.Since(start)}
		}
		lastErr = err
		if attempt+1 < def.MaxRetries {
			time.Sleep(time.Second)
		}
	}
	return Result{Success: false, Error: lastErr.Error(), Retries: def.MaxRetries - 1, Duration: time.Since(start)}
}

// SafeJoin resolves path under root and rejects it if it escapes root,
// grounded on dev_service/tools.py's _safe_join.
func SafeJoin(root, path string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, path)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(cleanRoot)
	if err != nil {
		return "", err
	}
	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", apperrors.ErrPathEscape
	}
	return resolved, nil
}
