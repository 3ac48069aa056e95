package lstm

import (
	"errors"
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"charlstm/internal/onehot"
)

func newTestModel(t *testing.T, dropout float64) *Model {
	t.Helper()
	m, err := New(Config{VocabSize: 4, HiddenSize: 8, Layers: 1, Dropout: dropout, Seed: 7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func encode(t *testing.T, rows [][]int, size int) *tensor.Dense {
	t.Helper()
	x, err := onehot.Rows(rows, size)
	if err != nil {
		t.Fatalf("onehot.Rows: %v", err)
	}
	return x
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no vocab", Config{VocabSize: 0, HiddenSize: 8, Layers: 1}},
		{"no hidden", Config{VocabSize: 4, HiddenSize: 0, Layers: 1}},
		{"two layers", Config{VocabSize: 4, HiddenSize: 8, Layers: 2}},
		{"dropout one", Config{VocabSize: 4, HiddenSize: 8, Layers: 1, Dropout: 1}},
	}
	for _, tt := range tests {
		if _, err := New(tt.cfg); err == nil {
			t.Errorf("%s: New returned nil error", tt.name)
		}
	}
}

func TestParamShapes(t *testing.T) {
	m := newTestModel(t, 0)
	want := map[string]tensor.Shape{
		"proj.w": {8, 4},
		"proj.b": {1, 4},
	}
	for _, g := range gates {
		want["lstm.wx."+g] = tensor.Shape{4, 8}
		want["lstm.wh."+g] = tensor.Shape{8, 8}
		want["lstm.b."+g] = tensor.Shape{1, 8}
	}

	params := m.Params()
	if len(params) != len(want) {
		t.Fatalf("got %d params, want %d", len(params), len(want))
	}
	for name, shape := range want {
		p, ok := params[name]
		if !ok {
			t.Errorf("missing param %q", name)
			continue
		}
		if !p.Shape().Eq(shape) {
			t.Errorf("%s shape = %v, want %v", name, p.Shape(), shape)
		}
	}
	if len(m.Learnables()) != len(want) {
		t.Errorf("Learnables() has %d entries, want %d", len(m.Learnables()), len(want))
	}
}

func TestForwardStepCounts(t *testing.T) {
	m := newTestModel(t, 0.2)

	x := encode(t, [][]int{{0, 1, 2, 3, 2}, {3, 3, 1, 0, 0}}, 4)
	logits, state, err := m.Forward(x, m.ZeroState(2), Eval)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !logits.Shape().Eq(tensor.Shape{2, 5, 4}) {
		t.Errorf("fresh logits shape = %v, want (2, 5, 4)", logits.Shape())
	}
	if !state.Hidden.Shape().Eq(tensor.Shape{1, 2, 8}) || !state.Cell.Shape().Eq(tensor.Shape{1, 2, 8}) {
		t.Errorf("state shapes = %v/%v, want (1, 2, 8)", state.Hidden.Shape(), state.Cell.Shape())
	}

	one := encode(t, [][]int{{1}, {2}}, 4)
	logits, _, err = m.Forward(one, state, Eval)
	if err != nil {
		t.Fatalf("continued Forward: %v", err)
	}
	if !logits.Shape().Eq(tensor.Shape{2, 1, 4}) {
		t.Errorf("continued logits shape = %v, want (2, 1, 4)", logits.Shape())
	}
}

func TestForwardContinuesState(t *testing.T) {
	m := newTestModel(t, 0)
	seq := []int{0, 2, 1, 3, 3, 0}

	full, _, err := m.Forward(encode(t, [][]int{seq}, 4), m.ZeroState(1), Eval)
	if err != nil {
		t.Fatal(err)
	}
	fullData := full.Data().([]float64)

	_, state, err := m.Forward(encode(t, [][]int{seq[:3]}, 4), m.ZeroState(1), Eval)
	if err != nil {
		t.Fatal(err)
	}
	for i, tok := range seq[3:] {
		var step *tensor.Dense
		step, state, err = m.Forward(encode(t, [][]int{{tok}}, 4), state, Eval)
		if err != nil {
			t.Fatal(err)
		}
		stepData := step.Data().([]float64)
		off := (3 + i) * 4
		for v := 0; v < 4; v++ {
			if math.Abs(stepData[v]-fullData[off+v]) > 1e-9 {
				t.Fatalf("step %d logit %d = %v, full pass = %v", 3+i, v, stepData[v], fullData[off+v])
			}
		}
	}

	// A fresh call ignores whatever came before.
	again, _, err := m.Forward(encode(t, [][]int{seq}, 4), m.ZeroState(1), Eval)
	if err != nil {
		t.Fatal(err)
	}
	againData := again.Data().([]float64)
	for i := range fullData {
		if againData[i] != fullData[i] {
			t.Fatalf("fresh passes differ at %d: %v vs %v", i, againData[i], fullData[i])
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m := newTestModel(t, 0)

	wrongVocab := encode(t, [][]int{{0, 1}}, 5)
	if _, _, err := m.Forward(wrongVocab, m.ZeroState(1), Eval); err == nil {
		t.Error("Forward accepted wrong vocab width")
	}

	x := encode(t, [][]int{{0, 1}}, 4)
	if _, _, err := m.Forward(x, m.ZeroState(3), Eval); err == nil {
		t.Error("Forward accepted state with wrong batch")
	}
	if _, _, err := m.Forward(x, State{}, Eval); err == nil {
		t.Error("Forward accepted zero-value state")
	}
}

func TestBackwardLearns(t *testing.T) {
	m := newTestModel(t, 0)
	x := encode(t, [][]int{{0, 1, 0, 1, 0}, {1, 0, 1, 0, 1}}, 4)
	y := encode(t, [][]int{{1, 0, 1, 0, 1}, {0, 1, 0, 1, 0}}, 4)

	solver := gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.05))

	var first, last float64
	for i := 0; i < 30; i++ {
		m.ZeroGrad()
		loss, err := m.Backward(x, y)
		if err != nil {
			t.Fatalf("Backward: %v", err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) || loss <= 0 {
			t.Fatalf("iteration %d: loss = %v", i, loss)
		}
		if i == 0 {
			first = loss
			if nonZeroGrads(m) == 0 {
				t.Fatal("no gradient reached the parameters")
			}
		}
		last = loss
		if err := solver.Step(m.Learnables()); err != nil {
			t.Fatalf("solver step: %v", err)
		}
	}

	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	m, err := New(Config{VocabSize: 4, HiddenSize: 3, Layers: 1, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	inputs := [][]int{{0, 1, 2}, {3, 2, 0}}
	targets := [][]int{{1, 2, 3}, {2, 0, 1}}
	x := encode(t, inputs, 4)

	m.ZeroGrad()
	loss, err := m.Backward(x, encode(t, targets, 4))
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if want := evalLoss(t, m, x, targets); math.Abs(loss-want) > 1e-9 {
		t.Fatalf("Backward loss = %v, cross entropy of Forward logits = %v", loss, want)
	}

	const eps = 1e-5
	for _, p := range m.params {
		data := p.data.Data().([]float64)
		grad := p.grad.Data().([]float64)
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := evalLoss(t, m, x, targets)
			data[i] = orig - eps
			minus := evalLoss(t, m, x, targets)
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			if math.Abs(numeric-grad[i]) > 1e-6 {
				t.Errorf("%s[%d]: gradient %v, finite difference %v", p.name, i, grad[i], numeric)
			}
		}
	}
}

// evalLoss is the mean cross entropy of Forward logits against targets.
func evalLoss(t *testing.T, m *Model, x *tensor.Dense, targets [][]int) float64 {
	t.Helper()
	logits, _, err := m.Forward(x, m.ZeroState(len(targets)), Eval)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	data := logits.Data().([]float64)
	V := m.cfg.VocabSize

	var sum float64
	var n int
	for b, row := range targets {
		for step, target := range row {
			off := (b*len(row) + step) * V
			var norm float64
			for v := 0; v < V; v++ {
				norm += math.Exp(data[off+v])
			}
			sum -= data[off+target] - math.Log(norm)
			n++
		}
	}
	return sum / float64(n)
}

func TestBackwardWithDropout(t *testing.T) {
	m := newTestModel(t, 0.5)
	x := encode(t, [][]int{{0, 1, 2}}, 4)
	y := encode(t, [][]int{{1, 2, 3}}, 4)

	loss, err := m.Backward(x, y)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if math.IsNaN(loss) || loss <= 0 {
		t.Errorf("loss = %v", loss)
	}

	if _, err := m.Backward(x, encode(t, [][]int{{1, 2}}, 4)); err == nil {
		t.Error("Backward accepted mismatched target shape")
	}
}

func TestLoad(t *testing.T) {
	src := newTestModel(t, 0)
	dst, err := New(Config{VocabSize: 4, HiddenSize: 8, Layers: 1, Seed: 99})
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.Load(src.Params()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	x := encode(t, [][]int{{0, 3, 2}}, 4)
	a, _, err := src.Forward(x, src.ZeroState(1), Eval)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := dst.Forward(x, dst.ZeroState(1), Eval)
	if err != nil {
		t.Fatal(err)
	}
	ad, bd := a.Data().([]float64), b.Data().([]float64)
	for i := range ad {
		if ad[i] != bd[i] {
			t.Fatalf("logits differ after Load at %d", i)
		}
	}

	bigger, err := New(Config{VocabSize: 4, HiddenSize: 16, Layers: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := bigger.Load(src.Params()); !errors.Is(err, ErrParamMismatch) {
		t.Errorf("Load with wrong hidden size error = %v, want ErrParamMismatch", err)
	}

	partial := src.Params()
	delete(partial, "proj.b")
	if err := dst.Load(partial); !errors.Is(err, ErrParamMismatch) {
		t.Errorf("Load with missing param error = %v, want ErrParamMismatch", err)
	}

	extra := src.Params()
	extra["lstm.wx.z"] = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(4, 8))
	if err := dst.Load(extra); !errors.Is(err, ErrParamMismatch) {
		t.Errorf("Load with unknown param error = %v, want ErrParamMismatch", err)
	}
}

func nonZeroGrads(m *Model) int {
	n := 0
	for _, p := range m.params {
		for _, g := range p.grad.Data().([]float64) {
			if g != 0 {
				n++
			}
		}
	}
	return n
}
