package arb

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

// ScriptStrategy runs an operator-supplied JavaScript strategy inside a goja
// VM. The script defines `function scan(snapshot)` and returns an array of
// objects with symbol/buyExchange/sellExchange/buyPrice/sellPrice fields;
// spread arithmetic and dedup keys are filled in on this side so scripts stay
// small. Strategies can be dropped into the script directory without a
// rebuild.
type ScriptStrategy struct {
	name   string
	source string

	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// LoadScripts compiles every .js file in dir into a strategy. A missing or
// empty directory yields no strategies and no error.
func LoadScripts(dir string) ([]Strategy, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".js") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		source, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return out, err
		}
		strategy, err := NewScriptStrategy(strings.TrimSuffix(name, ".js"), string(source))
		if err != nil {
			observability.Log().Warn("strategy script rejected",
				observability.F("script", name),
				observability.F("error", err.Error()))
			continue
		}
		out = append(out, strategy)
	}
	return out, nil
}

// NewScriptStrategy compiles one script and resolves its scan function.
func NewScriptStrategy(name, source string) (*ScriptStrategy, error) {
	s := &ScriptStrategy{name: name, source: source}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ScriptStrategy) reset() error {
	vm := goja.New()
	if _, err := vm.RunString(s.source); err != nil {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("script failed to compile"),
			errs.WithField("script", s.name),
			errs.WithCause(err))
	}
	fn, ok := goja.AssertFunction(vm.Get("scan"))
	if !ok {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("script does not define scan()"),
			errs.WithField("script", s.name))
	}
	s.vm = vm
	s.fn = fn
	return nil
}

// Name identifies the script strategy.
func (s *ScriptStrategy) Name() string { return "script:" + s.name }

type scriptResult struct {
	Symbol       string  `json:"symbol"`
	BuyExchange  string  `json:"buyExchange"`
	SellExchange string  `json:"sellExchange"`
	BuyPrice     float64 `json:"buyPrice"`
	SellPrice    float64 `json:"sellPrice"`
	Confidence   float64 `json:"confidence"`
}

// Scan marshals the view into plain maps, invokes the script, and converts
// its results. A throwing script logs and yields nothing; one bad script
// must not break the scan cycle.
func (s *ScriptStrategy) Scan(view *snapshot.View) []schema.ArbOpportunity {
	if view == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	input := make(map[string]map[string]map[string]float64, len(view.Tickers))
	for symbol, providers := range view.Tickers {
		entry := make(map[string]map[string]float64, len(providers))
		for provider, t := range providers {
			entry[provider] = map[string]float64{
				"last": t.Last,
				"bid":  t.Bid,
				"ask":  t.Ask,
			}
		}
		input[symbol] = entry
	}

	value, err := s.fn(goja.Undefined(), s.vm.ToValue(input))
	if err != nil {
		observability.Log().Warn("strategy script failed",
			observability.F("script", s.name),
			observability.F("error", err.Error()))
		// An interrupted VM is poisoned; rebuild it for the next cycle.
		_ = s.reset()
		return nil
	}
	var results []scriptResult
	if err := s.vm.ExportTo(value, &results); err != nil {
		observability.Log().Warn("strategy script returned bad shape",
			observability.F("script", s.name),
			observability.F("error", err.Error()))
		return nil
	}
	out := make([]schema.ArbOpportunity, 0, len(results))
	for _, r := range results {
		if r.Symbol == "" || r.BuyExchange == "" || r.SellExchange == "" ||
			r.BuyPrice <= 0 || r.SellPrice <= 0 {
			continue
		}
		spreadAbs := r.SellPrice - r.BuyPrice
		spreadPct := spreadAbs / r.BuyPrice * 100
		confidence := r.Confidence
		if confidence <= 0 {
			confidence = confidenceOf(spreadPct)
		}
		out = append(out, schema.ArbOpportunity{
			ID:           0,
			Symbol:       r.Symbol,
			Timestamp:    view.TakenAt,
			BuyExchange:  r.BuyExchange,
			SellExchange: r.SellExchange,
			BuyPrice:     r.BuyPrice,
			SellPrice:    r.SellPrice,
			SpreadAbs:    spreadAbs,
			SpreadPct:    spreadPct,
			NetPct:       spreadPct,
			Confidence:   confidence,
			DedupKey:     schema.BuildDedupKey(r.Symbol, r.BuyExchange, r.SellExchange),
		})
	}
	return out
}
