package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// FunctionName is the global the script must define.
const FunctionName = "pre_flight"

// ErrNoFunction is returned when the script does not define pre_flight.
var ErrNoFunction = errors.New("preflight: script defines no " + FunctionName + " function")

// LuaInvoker runs pre_flight from a Lua script. Compiled states are pooled
// and the script is recompiled when the file changes on disk.
type LuaInvoker struct {
	path   string
	logger *logrus.Logger

	mu    sync.RWMutex
	proto *lua.FunctionProto
	gen   uint64

	pool chan *luaState
}

type luaState struct {
	L   *lua.LState
	gen uint64
}

// NewLuaInvoker compiles the script at path. poolSize bounds the number of
// idle interpreter states kept around between requests.
func NewLuaInvoker(path string, poolSize int, logger *logrus.Logger) (*LuaInvoker, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve init script: %w", err)
	}
	if poolSize < 1 {
		poolSize = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	inv := &LuaInvoker{
		path:   abs,
		logger: logger,
		pool:   make(chan *luaState, poolSize),
	}
	proto, err := compile(abs)
	if err != nil {
		return nil, err
	}
	inv.proto = proto

	// Fail fast when the script does not define the hook.
	st, err := inv.get()
	if err != nil {
		return nil, err
	}
	defer inv.put(st)
	if st.L.GetGlobal(FunctionName).Type() != lua.LTFunction {
		return nil, ErrNoFunction
	}
	return inv, nil
}

func compile(path string) (*lua.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open init script: %w", err)
	}
	defer f.Close()
	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, fmt.Errorf("parse init script: %w", err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile init script: %w", err)
	}
	return proto, nil
}

func (l *LuaInvoker) get() (*luaState, error) {
	l.mu.RLock()
	proto, gen := l.proto, l.gen
	l.mu.RUnlock()

	for {
		select {
		case st := <-l.pool:
			if st.gen == gen {
				return st, nil
			}
			st.L.Close()
		default:
			return newState(proto, gen)
		}
	}
}

func newState(proto *lua.FunctionProto, gen uint64) (*luaState, error) {
	L := lua.NewState()
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("run init script: %w", err)
	}
	return &luaState{L: L, gen: gen}, nil
}

func (l *LuaInvoker) put(st *luaState) {
	l.mu.RLock()
	current := st.gen == l.gen
	l.mu.RUnlock()
	if !current {
		st.L.Close()
		return
	}
	select {
	case l.pool <- st:
	default:
		st.L.Close()
	}
}

// Preflight calls pre_flight(prefix, identifier, cookie).
func (l *LuaInvoker) Preflight(ctx context.Context, prefix, identifier, cookie string) (Result, error) {
	st, err := l.get()
	if err != nil {
		return Result{}, err
	}
	L := st.L
	L.SetContext(ctx)
	defer func() {
		L.RemoveContext()
		L.SetTop(0)
		l.put(st)
	}()

	fn := L.GetGlobal(FunctionName)
	if fn.Type() != lua.LTFunction {
		return Result{}, ErrNoFunction
	}
	err = L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true},
		lua.LString(prefix), lua.LString(identifier), lua.LString(cookie))
	if err != nil {
		return Result{}, fmt.Errorf("preflight: %w", err)
	}

	permission, path := L.Get(-2), L.Get(-1)
	values := make(map[string]string)
	switch v := permission.(type) {
	case lua.LString:
		values["type"] = string(v)
	case *lua.LTable:
		var bad error
		v.ForEach(func(key, val lua.LValue) {
			if val.Type() != lua.LTString {
				bad = fmt.Errorf("preflight: attribute %s must be a string", key.String())
				return
			}
			values[key.String()] = val.String()
		})
		if bad != nil {
			return Result{}, bad
		}
	default:
		return Result{}, fmt.Errorf("preflight: permission must be a string or table, got %s", permission.Type())
	}

	var infile string
	switch path.Type() {
	case lua.LTString:
		infile = path.String()
	case lua.LTNil:
	default:
		return Result{}, fmt.Errorf("preflight: file path must be a string, got %s", path.Type())
	}
	return Classify(values, infile)
}

// Reload recompiles the script. On failure the previous version stays active.
func (l *LuaInvoker) Reload() error {
	proto, err := compile(l.path)
	if err != nil {
		return err
	}
	st, err := newState(proto, 0)
	if err != nil {
		return err
	}
	defined := st.L.GetGlobal(FunctionName).Type() == lua.LTFunction
	st.L.Close()
	if !defined {
		return ErrNoFunction
	}
	l.mu.Lock()
	l.proto = proto
	l.gen++
	l.mu.Unlock()
	return nil
}

// Watch reloads the script whenever it changes until ctx is done. The
// containing directory is watched so editors that replace the file are seen.
func (l *LuaInvoker) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init script: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch init script: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				fields := logrus.Fields{"action": "preflight_reload", "script": l.path}
				if err := l.Reload(); err != nil {
					l.logger.WithFields(fields).WithError(err).Error("preflight_reload_failed")
					continue
				}
				l.logger.WithFields(fields).Info("preflight_reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.WithFields(logrus.Fields{"action": "preflight_watch"}).WithError(err).Warn("preflight_watch_error")
			}
		}
	}()
	return nil
}

// Close releases pooled interpreter states.
func (l *LuaInvoker) Close() {
	for {
		select {
		case st := <-l.pool:
			st.L.Close()
		default:
			return
		}
	}
}
