package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/iwvelando/unwind-risk/pkg/mathutil"
)

// ErrNonConvergence is returned when a run exceeds its tick budget.
var ErrNonConvergence = errors.New("unwind did not complete within tick budget")

// State is the run state machine's state.
type State int

const (
	Unwinding State = iota
	Done
)

func (s State) String() string {
	switch s {
	case Unwinding:
		return "unwinding"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunResult summarizes one completed run.
type RunResult struct {
	Loss              float64 `json:"loss"`
	Blocks            int     `json:"blocks"`
	MinExecutionPrice float64 `json:"minExecutionPrice"`
	MaxSlippage       float64 `json:"maxSlippage"`
	PercentageLoss    float64 `json:"percentageLoss"`
}

// Tick describes one simulated block as seen by an Observer.
type Tick struct {
	Block     int
	Price     float64
	Landed    bool
	BatchSize int
	Execution Execution
	Remaining int
}

// Observer is called once per tick after the tick's effects are applied.
type Observer func(Tick)

// Option configures a Simulator.
type Option func(*Simulator)

// WithObserver registers fn to see every tick.
func WithObserver(fn Observer) Option {
	return func(s *Simulator) {
		s.observer = fn
	}
}

// Simulator runs unwinds for one validated parameter set. It holds no
// per-run state and may be shared between goroutines as long as each run
// gets its own Source.
type Simulator struct {
	params   Params
	observer Observer
}

// New validates p and returns a Simulator for it.
func New(p Params, opts ...Option) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{params: p}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns the simulator's parameters.
func (s *Simulator) Params() Params {
	return s.params
}

// Run unwinds all positions under the GBM price process.
func (s *Simulator) Run(rng Source) (RunResult, error) {
	u := s.newUnwind(NewGBM(s.params, rng), rng)
	if err := u.drive(); err != nil {
		return RunResult{}, err
	}
	return u.result(), nil
}

// RunForcedDecay unwinds all positions while the price decays by rate per
// block, and returns the loss as a fraction of the initial value.
func (s *Simulator) RunForcedDecay(rate float64, rng Source) (float64, error) {
	u := s.newUnwind(ForcedDecay{Rate: rate}, rng)
	if err := u.drive(); err != nil {
		return 0, err
	}
	initial := s.params.InitialValue()
	return (initial - u.realized) / initial, nil
}

// unwind is the mutable state of one run.
type unwind struct {
	params   Params
	prices   PriceProcess
	sampler  BlockSampler
	observer Observer

	state       State
	remaining   int
	price       float64
	realized    float64
	blocks      int
	minExecuted float64
	maxSlippage float64
}

func (s *Simulator) newUnwind(prices PriceProcess, rng Source) *unwind {
	return &unwind{
		params:      s.params,
		prices:      prices,
		sampler:     NewBlockSampler(s.params.CongestionFailRate, s.params.NetworkFailRate, rng),
		observer:    s.observer,
		state:       Unwinding,
		remaining:   s.params.InitialPositions,
		price:       s.params.InitialPrice,
		minExecuted: math.Inf(1),
	}
}

func (u *unwind) drive() error {
	limit := u.params.maxTicks()
	for u.state == Unwinding {
		if u.blocks >= limit {
			return fmt.Errorf("%w: %d positions left after %d blocks", ErrNonConvergence, u.remaining, u.blocks)
		}
		u.tick()
	}
	return nil
}

// tick advances one block. The price moves whether or not the transaction lands.
func (u *unwind) tick() {
	u.blocks++
	u.price = u.prices.Next(u.price)

	t := Tick{Block: u.blocks, Price: u.price, Remaining: u.remaining}
	if !u.sampler.Landed() {
		u.notify(t)
		return
	}

	batch := min(u.remaining, u.params.MaxUnwindsPerTx)
	exec := Execute(batch, u.price, u.params.BaseSlippage)
	u.realized += float64(batch) * exec.Price
	u.remaining -= batch
	if exec.Price < u.minExecuted {
		u.minExecuted = exec.Price
	}
	if exec.Slippage > u.maxSlippage {
		u.maxSlippage = exec.Slippage
	}
	if u.remaining == 0 {
		u.state = Done
	}

	t.Landed = true
	t.BatchSize = batch
	t.Execution = exec
	t.Remaining = u.remaining
	u.notify(t)
}

func (u *unwind) notify(t Tick) {
	if u.observer != nil {
		u.observer(t)
	}
}

func (u *unwind) result() RunResult {
	initial := u.params.InitialValue()
	loss := initial - u.realized
	return RunResult{
		Loss:              loss,
		Blocks:            u.blocks,
		MinExecutionPrice: u.minExecuted,
		MaxSlippage:       u.maxSlippage,
		PercentageLoss:    mathutil.CalculatePercentage(loss, initial),
	}
}
