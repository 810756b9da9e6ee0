package backtest

import (
	"fmt"
	"sort"
	"sync"
)

// StrategyState 是策略自有的跨 tick 状态。引擎在回调间透传，
// 不做任何解释；策略不得依赖回调之外的隐式全局状态。
type StrategyState any

// Strategy 是回测的决策单元：Init 产出初始状态，OnTick 在每个 tick
// 被同步调用一次，可通过 view 下单/平仓，并返回演化后的状态。
// 回调返回的错误会中止整个 run（账本保留到出错为止的部分结果）。
type Strategy interface {
	Init() StrategyState
	OnTick(state StrategyState, view LedgerView, tick Tick) (StrategyState, error)
}

// StrategyFactory 按 run 级别创建策略实例（可携带参数/状态）。
type StrategyFactory interface {
	NewStrategy(spec StrategySpec) (Strategy, error)
}

// StrategySpec 表示一次 run 的策略上下文。
type StrategySpec struct {
	RunID       string
	ProfileName string
	Params      map[string]any
}

// FactoryFunc 把普通函数适配成 StrategyFactory。
type FactoryFunc func(spec StrategySpec) (Strategy, error)

func (f FactoryFunc) NewStrategy(spec StrategySpec) (Strategy, error) { return f(spec) }

var (
	strategyMu       sync.RWMutex
	strategyBuilders = map[string]FactoryFunc{}
)

// RegisterStrategy 注册一个命名策略构造器，重名会 panic（init 期调用）。
func RegisterStrategy(name string, builder FactoryFunc) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	if _, dup := strategyBuilders[name]; dup {
		panic(fmt.Sprintf("策略 %q 重复注册", name))
	}
	strategyBuilders[name] = builder
}

// NewStrategyByName 按名字实例化已注册策略。
func NewStrategyByName(name string, spec StrategySpec) (Strategy, error) {
	strategyMu.RLock()
	builder, ok := strategyBuilders[name]
	strategyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未注册的策略 %q", name)
	}
	return builder(spec)
}

// StrategyNames 返回全部已注册策略名（升序）。
func StrategyNames() []string {
	strategyMu.RLock()
	defer strategyMu.RUnlock()
	names := make([]string, 0, len(strategyBuilders))
	for name := range strategyBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryFactory 是绑定了策略名的 StrategyFactory，供模拟器使用。
type RegistryFactory struct {
	Name string
}

func (f *RegistryFactory) NewStrategy(spec StrategySpec) (Strategy, error) {
	return NewStrategyByName(f.Name, spec)
}
