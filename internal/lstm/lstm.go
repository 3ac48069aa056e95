// Package lstm implements a single-layer LSTM language model over one-hot
// character inputs, built on gorgonia expression graphs.
package lstm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode selects whether dropout is active for a forward pass.
type Mode int

const (
	Eval Mode = iota
	Train
)

func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

var ErrParamMismatch = errors.New("parameter mismatch")

var gates = []string{"i", "f", "g", "o"}

type Config struct {
	VocabSize  int
	HiddenSize int
	Layers     int
	Dropout    float64
	Seed       int64
}

func (c Config) validate() error {
	switch {
	case c.VocabSize < 1:
		return fmt.Errorf("vocab size must be positive, got %d", c.VocabSize)
	case c.HiddenSize < 1:
		return fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize)
	case c.Layers != 1:
		return fmt.Errorf("only a single recurrent layer is supported, got %d", c.Layers)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout)
	}
	return nil
}

// Param is a learnable tensor whose identity outlives any single graph, so
// solvers can key their running moments on it.
type Param struct {
	name string
	data *tensor.Dense
	grad *tensor.Dense
}

func (p *Param) Name() string { return p.name }

func (p *Param) Value() gorgonia.Value { return p.data }

func (p *Param) Grad() (gorgonia.Value, error) { return p.grad, nil }

// State is the recurrent memory, each tensor shaped (layers x batch x hidden).
type State struct {
	Hidden *tensor.Dense
	Cell   *tensor.Dense
}

// Model is not safe for concurrent use.
type Model struct {
	cfg    Config
	params []*Param
	byName map[string]*Param
	rng    *rand.Rand
}

func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Model{
		cfg:    cfg,
		byName: make(map[string]*Param),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	V, H := cfg.VocabSize, cfg.HiddenSize
	k := 1 / math.Sqrt(float64(H))
	init := gorgonia.Uniform(-k, k)

	for _, g := range gates {
		if err := m.add("lstm.wx."+g, init, V, H); err != nil {
			return nil, err
		}
		if err := m.add("lstm.wh."+g, init, H, H); err != nil {
			return nil, err
		}
		if err := m.add("lstm.b."+g, init, 1, H); err != nil {
			return nil, err
		}
	}
	if err := m.add("proj.w", init, H, V); err != nil {
		return nil, err
	}
	if err := m.add("proj.b", init, 1, V); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) add(name string, init gorgonia.InitWFn, rows, cols int) error {
	backing, ok := init(tensor.Float64, rows, cols).([]float64)
	if !ok {
		return fmt.Errorf("init %s: unexpected backing type", name)
	}
	p := &Param{
		name: name,
		data: tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing)),
		grad: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(rows, cols)),
	}
	m.params = append(m.params, p)
	m.byName[name] = p
	return nil
}

func (m *Model) Config() Config {
	return m.cfg
}

// ZeroState returns the all-zero state used for fresh-mode calls.
func (m *Model) ZeroState(batch int) State {
	shape := []int{m.cfg.Layers, batch, m.cfg.HiddenSize}
	return State{
		Hidden: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
		Cell:   tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
	}
}

// Forward runs x (batch x steps x vocab) through the network starting from
// state and returns per-step logits (batch x steps x vocab) and the final
// state. Pass ZeroState for a fresh call, or the state returned by the
// previous call to continue a stream.
func (m *Model) Forward(x *tensor.Dense, state State, mode Mode) (*tensor.Dense, State, error) {
	batch, steps, err := m.checkInput(x)
	if err != nil {
		return nil, State{}, err
	}
	if err := m.checkState(state, batch); err != nil {
		return nil, State{}, err
	}

	u, err := m.unroll(x, state, mode)
	if err != nil {
		return nil, State{}, fmt.Errorf("build forward graph: %w", err)
	}

	vm := gorgonia.NewTapeMachine(u.g)
	defer vm.Close()

	if err := vm.RunAll(); err != nil {
		return nil, State{}, fmt.Errorf("run forward graph: %w", err)
	}

	V := m.cfg.VocabSize
	logits := make([]float64, batch*steps*V)
	for t, n := range u.logits {
		data, ok := n.Value().Data().([]float64)
		if !ok || len(data) != batch*V {
			return nil, State{}, fmt.Errorf("logits at step %d: unexpected value %v", t, n.Value().Shape())
		}
		for b := 0; b < batch; b++ {
			off := (b*steps + t) * V
			copy(logits[off:off+V], data[b*V:(b+1)*V])
		}
	}

	next, err := u.finalState(m.cfg.Layers)
	if err != nil {
		return nil, State{}, err
	}
	return tensor.New(tensor.WithShape(batch, steps, V), tensor.WithBacking(logits)), next, nil
}

// Backward runs a fresh training-mode pass over x, scores it against the
// one-hot targets y with mean cross entropy over batch and time, and stores
// the gradient of every parameter. It returns the loss.
func (m *Model) Backward(x, y *tensor.Dense) (float64, error) {
	batch, steps, err := m.checkInput(x)
	if err != nil {
		return 0, err
	}
	if !y.Shape().Eq(x.Shape()) {
		return 0, fmt.Errorf("target shape %v does not match input shape %v", y.Shape(), x.Shape())
	}

	u, err := m.unroll(x, m.ZeroState(batch), Train)
	if err != nil {
		return 0, fmt.Errorf("build training graph: %w", err)
	}
	cost, err := u.crossEntropy(y, batch, steps)
	if err != nil {
		return 0, fmt.Errorf("build loss: %w", err)
	}

	learnables := u.learnables(m.params)
	if _, err := gorgonia.Grad(cost, learnables...); err != nil {
		return 0, fmt.Errorf("symbolic gradient: %w", err)
	}

	vm := gorgonia.NewTapeMachine(u.g, gorgonia.BindDualValues(learnables...))
	defer vm.Close()

	if err := vm.RunAll(); err != nil {
		return 0, fmt.Errorf("run training graph: %w", err)
	}

	loss, err := scalar(cost.Value())
	if err != nil {
		return 0, err
	}

	for i, n := range learnables {
		g, err := n.Grad()
		if err != nil {
			return 0, fmt.Errorf("gradient of %s: %w", m.params[i].name, err)
		}
		src, ok := g.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("gradient of %s: unexpected type %T", m.params[i].name, g.Data())
		}
		copy(m.params[i].grad.Data().([]float64), src)
	}
	return loss, nil
}

// Learnables returns the parameters in a fixed order for a gorgonia solver.
func (m *Model) Learnables() []gorgonia.ValueGrad {
	out := make([]gorgonia.ValueGrad, len(m.params))
	for i, p := range m.params {
		out[i] = p
	}
	return out
}

func (m *Model) ZeroGrad() {
	for _, p := range m.params {
		p.grad.Zero()
	}
}

// Params returns the live parameter tensors keyed by name.
func (m *Model) Params() map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(m.params))
	for _, p := range m.params {
		out[p.name] = p.data
	}
	return out
}

// Load copies params into the model. Every name must be present with the
// model's shape, and no unknown names are accepted.
func (m *Model) Load(params map[string]*tensor.Dense) error {
	for _, p := range m.params {
		src, ok := params[p.name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrParamMismatch, p.name)
		}
		if !src.Shape().Eq(p.data.Shape()) {
			return fmt.Errorf("%w: %q has shape %v, want %v", ErrParamMismatch, p.name, src.Shape(), p.data.Shape())
		}
		data, ok := src.Data().([]float64)
		if !ok {
			return fmt.Errorf("%w: %q has dtype %v", ErrParamMismatch, p.name, src.Dtype())
		}
		copy(p.data.Data().([]float64), data)
	}

	var unknown []string
	for name := range params {
		if _, ok := m.byName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown %q", ErrParamMismatch, unknown)
	}
	return nil
}

func (m *Model) checkInput(x *tensor.Dense) (batch, steps int, err error) {
	s := x.Shape()
	if s.Dims() != 3 || s[2] != m.cfg.VocabSize {
		return 0, 0, fmt.Errorf("input shape %v, want (batch, steps, %d)", s, m.cfg.VocabSize)
	}
	if s[0] < 1 || s[1] < 1 {
		return 0, 0, fmt.Errorf("input shape %v has an empty axis", s)
	}
	if x.Dtype() != tensor.Float64 {
		return 0, 0, fmt.Errorf("input dtype %v, want %v", x.Dtype(), tensor.Float64)
	}
	return s[0], s[1], nil
}

func (m *Model) checkState(s State, batch int) error {
	want := tensor.Shape{m.cfg.Layers, batch, m.cfg.HiddenSize}
	if s.Hidden == nil || s.Cell == nil {
		return fmt.Errorf("state is not initialised")
	}
	if !s.Hidden.Shape().Eq(want) || !s.Cell.Shape().Eq(want) {
		return fmt.Errorf("state shapes %v/%v, want %v", s.Hidden.Shape(), s.Cell.Shape(), want)
	}
	return nil
}

func scalar(v gorgonia.Value) (float64, error) {
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("expected scalar, got %v", v.Shape())
}
