// Package scripting hosts the Lua VM that owns the tunable gameplay
// formulas: damage, xp curve, gather yields, technique amounts. Formulas
// live in scripts so balance changes don't need a rebuild.
package scripting

import (
	"embed"
	"math"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

//go:embed scripts/*.lua
var builtin embed.FS

// Engine wraps a single gopher-lua VM. Zones tick concurrently, so every
// call takes the engine lock; formula calls are short.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine preloaded with the built-in scripts.
func NewEngine(log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	e := &Engine{vm: vm, log: log}

	entries, err := builtin.ReadDir("scripts")
	if err != nil {
		vm.Close()
		return nil, err
	}
	for _, entry := range entries {
		src, err := builtin.ReadFile("scripts/" + entry.Name())
		if err != nil {
			vm.Close()
			return nil, err
		}
		if err := vm.DoString(string(src)); err != nil {
			vm.Close()
			return nil, err
		}
	}
	return e, nil
}

// LoadDir overlays .lua files from a directory over the built-ins
// (deployment override point).
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return err
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Close releases the VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// AttackContext holds pre-packed data for one combat exchange. Roll is the
// caller's RNG draw in [0,1) so results stay reproducible in tests.
type AttackContext struct {
	AttackerAtk   int
	AttackerLevel int
	DefenderDef   int
	DefenderLevel int
	Roll          float64
}

// CalcAttack returns the damage for one exchange: mitigated attack with
// ±10% variance, minimum 1.
func (e *Engine) CalcAttack(ctx AttackContext) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn := e.vm.GetGlobal("calc_attack")
	if fn == lua.LNil {
		return fallbackAttack(ctx)
	}
	t := e.vm.NewTable()
	t.RawSetString("atk", lua.LNumber(ctx.AttackerAtk))
	t.RawSetString("attacker_level", lua.LNumber(ctx.AttackerLevel))
	t.RawSetString("def", lua.LNumber(ctx.DefenderDef))
	t.RawSetString("defender_level", lua.LNumber(ctx.DefenderLevel))
	t.RawSetString("roll", lua.LNumber(ctx.Roll))
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		e.log.Error("calc_attack failed", zap.Error(err))
		return fallbackAttack(ctx)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		return int(n)
	}
	return fallbackAttack(ctx)
}

func fallbackAttack(ctx AttackContext) int {
	mitigation := 100.0 / (100.0 + float64(ctx.DefenderDef))
	variance := 0.9 + 0.2*ctx.Roll
	dmg := int(math.Round(float64(ctx.AttackerAtk) * mitigation * variance))
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// XPForLevel returns the cumulative xp required to hold the given level.
func (e *Engine) XPForLevel(level int) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn := e.vm.GetGlobal("xp_for_level")
	if fn == lua.LNil {
		return fallbackXPForLevel(level)
	}
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LNumber(level)); err != nil {
		e.log.Error("xp_for_level failed", zap.Error(err))
		return fallbackXPForLevel(level)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		return int64(n)
	}
	return fallbackXPForLevel(level)
}

func fallbackXPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(100 * math.Pow(float64(level-1), 2.2))
}

// GatherContext packs one gather attempt.
type GatherContext struct {
	Resource string
	ToolTier int
	Roll     float64
}

// GatherResult is the rolled yield of one gather.
type GatherResult struct {
	Qty          int
	Rare         bool
	ProfessionXP int64
}

// CalcGatherYield rolls quantity, rare upgrade, and profession xp.
func (e *Engine) CalcGatherYield(ctx GatherContext) GatherResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn := e.vm.GetGlobal("calc_gather_yield")
	if fn == lua.LNil {
		return fallbackGather(ctx)
	}
	t := e.vm.NewTable()
	t.RawSetString("resource", lua.LString(ctx.Resource))
	t.RawSetString("tool_tier", lua.LNumber(ctx.ToolTier))
	t.RawSetString("roll", lua.LNumber(ctx.Roll))
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		e.log.Error("calc_gather_yield failed", zap.Error(err))
		return fallbackGather(ctx)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return fallbackGather(ctx)
	}
	res := GatherResult{Qty: 1, ProfessionXP: 10}
	if n, ok := tbl.RawGetString("qty").(lua.LNumber); ok {
		res.Qty = int(n)
	}
	if b, ok := tbl.RawGetString("rare").(lua.LBool); ok {
		res.Rare = bool(b)
	}
	if n, ok := tbl.RawGetString("profession_xp").(lua.LNumber); ok {
		res.ProfessionXP = int64(n)
	}
	return res
}

func fallbackGather(ctx GatherContext) GatherResult {
	res := GatherResult{Qty: 1, ProfessionXP: 10}
	if ctx.Roll >= 0.95 {
		res.Rare = true
		res.ProfessionXP = 50
	}
	return res
}

// TechniqueContext packs one technique resolution.
type TechniqueContext struct {
	Power int
	Intel int
	Level int
	Roll  float64
}

// CalcTechnique returns the damage/heal amount for a technique cast.
func (e *Engine) CalcTechnique(ctx TechniqueContext) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn := e.vm.GetGlobal("calc_technique")
	if fn == lua.LNil {
		return fallbackTechnique(ctx)
	}
	t := e.vm.NewTable()
	t.RawSetString("power", lua.LNumber(ctx.Power))
	t.RawSetString("intel", lua.LNumber(ctx.Intel))
	t.RawSetString("level", lua.LNumber(ctx.Level))
	t.RawSetString("roll", lua.LNumber(ctx.Roll))
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		e.log.Error("calc_technique failed", zap.Error(err))
		return fallbackTechnique(ctx)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		return int(n)
	}
	return fallbackTechnique(ctx)
}

func fallbackTechnique(ctx TechniqueContext) int {
	variance := 0.9 + 0.2*ctx.Roll
	amt := int(math.Round(float64(ctx.Power+2*ctx.Intel+ctx.Level) * variance))
	if amt < 1 {
		amt = 1
	}
	return amt
}
