package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"golang.org/x/sync/semaphore"
)

// Result is what a script printed. A fault leaves Stdout empty and puts
// the error text in Stderr.
type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Failed reports whether the run faulted or wrote to stderr.
func (r Result) Failed() bool {
	return r.Stderr != ""
}

// Packages scripts may use without an import clause.
var defaultAllowed = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// Sandbox runs untrusted Go snippets in yaegi with no filesystem, network
// or process access. Each run gets a fresh interpreter.
type Sandbox struct {
	workers *semaphore.Weighted
	symbols interp.Exports
}

type Option func(*Sandbox)

// WithPackages replaces the stdlib whitelist.
func WithPackages(paths ...string) Option {
	return func(s *Sandbox) {
		s.symbols = filterSymbols(paths)
	}
}

// New caps concurrent runs at workers; zero means one per CPU.
func New(workers int, opts ...Option) *Sandbox {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := &Sandbox{
		workers: semaphore.NewWeighted(int64(workers)),
		symbols: filterSymbols(defaultAllowed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func filterSymbols(paths []string) interp.Exports {
	allowed := make(map[string]bool, len(paths))
	for _, p := range paths {
		allowed[p] = true
	}

	out := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// keys look like "encoding/json/json"
		idx := strings.LastIndex(key, "/")
		if idx < 0 || !allowed[key[:idx]] {
			continue
		}
		out[key] = withoutGoroutines(key, syms)
	}
	return out
}

// Symbols whose callbacks run on a goroutine the run cannot recover.
var spawning = map[string][]string{
	"time/time": {"AfterFunc"},
}

func withoutGoroutines(key string, syms map[string]reflect.Value) map[string]reflect.Value {
	names, ok := spawning[key]
	if !ok {
		return syms
	}
	out := make(map[string]reflect.Value, len(syms))
	for name, v := range syms {
		out[name] = v
	}
	for _, name := range names {
		delete(out, name)
	}
	return out
}

var errGoStatement = errors.New("go statements are not allowed in scripts")

// checkScript rejects scripts that start goroutines. A panic there would
// escape the run's recover. Snippets are parsed the way the interpreter
// reads them: as a file first, then as a function body.
func checkScript(script string) error {
	fset := token.NewFileSet()
	src := script
	if !strings.HasPrefix(strings.TrimSpace(src), "package ") {
		src = "package main\n" + src
	}
	file, err := parser.ParseFile(fset, "", src, 0)
	if err != nil {
		file, err = parser.ParseFile(fset, "", "package main\nfunc main() {\n"+script+"\n}", 0)
		if err != nil {
			return err
		}
	}

	var found bool
	ast.Inspect(file, func(n ast.Node) bool {
		if _, ok := n.(*ast.GoStmt); ok {
			found = true
		}
		return !found
	})
	if found {
		return errGoStatement
	}
	return nil
}

// cloneRecords deep-copies the dataset so a script only ever mutates its
// own view.
func cloneRecords(in []map[string]any) []map[string]any {
	out := make([]map[string]any, len(in))
	for i, rec := range in {
		out[i] = cloneValue(rec).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		if t == nil {
			return []any(nil)
		}
		sl := make([]any, len(t))
		for i, e := range t {
			sl[i] = cloneValue(e)
		}
		return sl
	case []map[string]any:
		return cloneRecords(t)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Packages lists the importable stdlib paths, sorted.
func (s *Sandbox) Packages() []string {
	out := make([]string, 0, len(s.symbols))
	for key := range s.symbols {
		out = append(out, key[:strings.LastIndex(key, "/")])
	}
	sort.Strings(out)
	return out
}

// Execute runs script with the single binding `resources` and blocks until
// it finishes. It never returns an error; faults come back in Stderr.
func (s *Sandbox) Execute(ctx context.Context, script string, resources []map[string]any) Result {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return Result{Stderr: err.Error()}
	}

	done := make(chan Result, 1)
	go func() {
		defer s.workers.Release(1)
		done <- s.run(ctx, script, resources)
	}()
	return <-done
}

func (s *Sandbox) run(ctx context.Context, script string, resources []map[string]any) (res Result) {
	var stdout, stderr bytes.Buffer

	defer func() {
		if r := recover(); r != nil {
			res = Result{Stderr: fmt.Sprint(r)}
		}
	}()

	if err := checkScript(script); err != nil {
		return Result{Stderr: err.Error()}
	}
	resources = cloneRecords(resources)

	i := interp.New(interp.Options{
		Stdin:                strings.NewReader(""),
		Stdout:               &stdout,
		Stderr:               &stderr,
		Env:                  []string{},
		Args:                 []string{},
		SourcecodeFilesystem: emptyFS{},
	})

	if err := i.Use(s.symbols); err != nil {
		return Result{Stderr: fmt.Sprintf("load stdlib: %v", err)}
	}
	if err := i.Use(interp.Exports{
		"sandbox/sandbox": {
			"Resources": reflect.ValueOf(&resources).Elem(),
		},
	}); err != nil {
		return Result{Stderr: fmt.Sprintf("bind resources: %v", err)}
	}
	i.ImportUsed()

	if _, err := i.EvalWithContext(ctx, "var resources = sandbox.Resources"); err != nil {
		return Result{Stderr: fmt.Sprintf("bind resources: %v", err)}
	}

	if _, err := i.EvalWithContext(ctx, script); err != nil {
		return Result{Stderr: err.Error()}
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String()}
}

// emptyFS keeps the interpreter from resolving imports out of GOPATH.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}
