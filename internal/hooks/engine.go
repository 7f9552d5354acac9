// Package hooks runs Lua scripts around object lifecycle events of the mount:
// object_put, object_delete, object_rename and object_fetch.
//
// For an event the engine runs, in order, <dir>/<event>.lua, every *.lua in
// <dir>/<event>/ and <dir>/all.lua. Each script sees the globals `event` and
// `payload` plus a `log` function. A script that defines
// `decide(event, payload)` can veto the operation by returning
// {allow = false, reason = "..."}; it may also return patch = {...} to add
// keys for the scripts that follow.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Events emitted by the handler.
const (
	ObjectPut    = "object_put"
	ObjectDelete = "object_delete"
	ObjectRename = "object_rename"
	ObjectFetch  = "object_fetch"
)

// Engine runs Lua scripts on lifecycle events.
type Engine struct {
	mu      sync.RWMutex
	dir     string
	timeout time.Duration
	log     zerolog.Logger
	loaded  []string
}

func New(dir string, timeout time.Duration, log zerolog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	e := &Engine{dir: dir, timeout: timeout, log: log.With().Str("component", "hooks").Logger()}
	e.Reload()
	return e
}

func (e *Engine) options() (string, time.Duration) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dir, e.timeout
}

// scripts lists the existing candidate scripts for event.
func (e *Engine) scripts(event string) []string {
	dir, _ := e.options()
	if dir == "" {
		return nil
	}
	candidates := []string{filepath.Join(dir, event+".lua")}
	if entries, err := os.ReadDir(filepath.Join(dir, event)); err == nil {
		for _, ent := range entries {
			if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".lua") {
				candidates = append(candidates, filepath.Join(dir, event, ent.Name()))
			}
		}
	}
	candidates = append(candidates, filepath.Join(dir, "all.lua"))
	return slices.DeleteFunc(candidates, func(p string) bool {
		_, err := os.Stat(p)
		return err != nil
	})
}

// Fire runs the scripts for event and ignores any decision they make.
func (e *Engine) Fire(ctx context.Context, event string, payload map[string]any) {
	if e == nil {
		return
	}
	_, timeout := e.options()
	for _, script := range e.scripts(event) {
		c, cancel := context.WithTimeout(ctx, timeout)
		if _, err := e.execute(c, script, event, payload, false); err != nil {
			e.log.Warn().Err(err).Str("script", script).Str("event", event).Msg("hook failed")
		}
		cancel()
	}
}

// Decide runs the scripts for event and returns whether the operation may go
// ahead. The first explicit deny wins; patches accumulate into the returned
// payload. Script errors do not deny.
func (e *Engine) Decide(ctx context.Context, event string, payload map[string]any) (bool, map[string]any, string) {
	if e == nil {
		return true, payload, ""
	}
	out := maps.Clone(payload)
	if out == nil {
		out = map[string]any{}
	}
	_, timeout := e.options()
	for _, script := range e.scripts(event) {
		c, cancel := context.WithTimeout(ctx, timeout)
		d, err := e.execute(c, script, event, out, true)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("script", script).Str("event", event).Msg("hook decide failed")
			continue
		}
		maps.Copy(out, d.patch)
		if !d.allow {
			if d.reason == "" {
				d.reason = "denied by hook"
			}
			e.log.Info().Str("script", script).Str("event", event).Str("reason", d.reason).Msg("hook denied operation")
			return false, out, d.reason
		}
	}
	return true, out, ""
}

// Reload syntax-checks every script below the hooks directory.
func (e *Engine) Reload() {
	dir, _ := e.options()
	if dir == "" {
		return
	}
	var found []string
	entries, _ := os.ReadDir(dir)
	for _, ent := range entries {
		if !ent.IsDir() {
			if strings.HasSuffix(ent.Name(), ".lua") {
				found = append(found, filepath.Join(dir, ent.Name()))
			}
			continue
		}
		files, _ := os.ReadDir(filepath.Join(dir, ent.Name()))
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".lua") {
				found = append(found, filepath.Join(dir, ent.Name(), f.Name()))
			}
		}
	}
	ok := make([]string, 0, len(found))
	for _, s := range found {
		L := lua.NewState()
		_, err := L.LoadFile(s)
		L.Close()
		if err != nil {
			e.log.Error().Err(err).Str("script", s).Msg("hook syntax check failed")
			continue
		}
		e.log.Info().Str("script", s).Msg("hook loaded")
		ok = append(ok, s)
	}
	e.mu.Lock()
	e.loaded = ok
	e.mu.Unlock()
}

// Loaded returns the scripts that passed the last Reload.
func (e *Engine) Loaded() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.loaded)
}

// SetOptions changes the directory and timeout; zero values keep the current
// setting.
func (e *Engine) SetOptions(dir string, timeout time.Duration) {
	e.mu.Lock()
	if dir != "" {
		e.dir = dir
	}
	if timeout > 0 {
		e.timeout = timeout
	}
	e.mu.Unlock()
}

type decision struct {
	allow  bool
	reason string
	patch  map[string]any
}

func (e *Engine) execute(ctx context.Context, script, event string, payload map[string]any, decide bool) (decision, error) {
	d := decision{allow: true}
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.Get(i).String())
		}
		e.log.Info().Str("script", script).Msg(strings.Join(parts, " "))
		return 0
	}))
	L.SetGlobal("event", lua.LString(event))
	L.SetGlobal("payload", toLuaValue(L, payload))
	if err := L.DoFile(script); err != nil {
		return d, err
	}
	if !decide {
		return d, nil
	}
	fn := L.GetGlobal("decide")
	if fn.Type() != lua.LTFunction {
		return d, nil
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(event), toLuaValue(L, payload)); err != nil {
		return d, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return d, nil
	}
	if v, ok := tbl.RawGetString("allow").(lua.LBool); ok {
		d.allow = bool(v)
	}
	if v := tbl.RawGetString("reason"); v != lua.LNil {
		d.reason = v.String()
	}
	if v, ok := tbl.RawGetString("patch").(*lua.LTable); ok {
		d.patch = fromLuaTable(v)
	}
	return d, nil
}

func toLuaValue(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case map[string]any:
		tbl := L.NewTable()
		for k, vv := range t {
			tbl.RawSetString(k, toLuaValue(L, vv))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, it := range t {
			tbl.Append(lua.LString(it))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

func fromLuaTable(t *lua.LTable) map[string]any {
	out := map[string]any{}
	t.ForEach(func(k, v lua.LValue) {
		switch v := v.(type) {
		case lua.LString:
			out[k.String()] = string(v)
		case lua.LNumber:
			out[k.String()] = float64(v)
		case lua.LBool:
			out[k.String()] = bool(v)
		case *lua.LTable:
			out[k.String()] = fromLuaTable(v)
		default:
			out[k.String()] = v.String()
		}
	})
	return out
}
