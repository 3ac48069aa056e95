package lstm

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// unrolled is the expression graph for one call: the LSTM cell applied once
// per time step, followed by dropout and the projection to logits.
type unrolled struct {
	g      *gorgonia.ExprGraph
	params map[string]*gorgonia.Node
	ones   *gorgonia.Node
	logits []*gorgonia.Node
	h, c   *gorgonia.Node
}

func (m *Model) unroll(x *tensor.Dense, state State, mode Mode) (*unrolled, error) {
	s := x.Shape()
	batch, steps := s[0], s[1]
	V, H := m.cfg.VocabSize, m.cfg.HiddenSize

	u := &unrolled{
		g:      gorgonia.NewGraph(),
		params: make(map[string]*gorgonia.Node, len(m.params)),
	}
	for _, p := range m.params {
		u.params[p.name] = gorgonia.NewMatrix(u.g, tensor.Float64,
			gorgonia.WithShape(p.data.Shape()...),
			gorgonia.WithName(p.name),
			gorgonia.WithValue(p.data))
	}

	// Biases are (1 x n); multiplying by a column of ones broadcasts them over the batch.
	u.ones = gorgonia.NewMatrix(u.g, tensor.Float64,
		gorgonia.WithShape(batch, 1),
		gorgonia.WithName("ones"),
		gorgonia.WithInit(gorgonia.Ones()))

	h := gorgonia.NewMatrix(u.g, tensor.Float64,
		gorgonia.WithShape(batch, H),
		gorgonia.WithName("h0"),
		gorgonia.WithValue(layerSlice(state.Hidden, batch, H)))
	c := gorgonia.NewMatrix(u.g, tensor.Float64,
		gorgonia.WithShape(batch, H),
		gorgonia.WithName("c0"),
		gorgonia.WithValue(layerSlice(state.Cell, batch, H)))

	xs := stepSlices(x)
	for t := 0; t < steps; t++ {
		xt := gorgonia.NewMatrix(u.g, tensor.Float64,
			gorgonia.WithShape(batch, V),
			gorgonia.WithName(fmt.Sprintf("x%d", t)),
			gorgonia.WithValue(xs[t]))

		var err error
		if h, c, err = u.cell(xt, h, c); err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}

		out := h
		if mode == Train && m.cfg.Dropout > 0 {
			mask := gorgonia.NewMatrix(u.g, tensor.Float64,
				gorgonia.WithShape(batch, H),
				gorgonia.WithName(fmt.Sprintf("drop%d", t)),
				gorgonia.WithValue(m.dropoutMask(batch, H)))
			if out, err = gorgonia.HadamardProd(h, mask); err != nil {
				return nil, fmt.Errorf("step %d dropout: %w", t, err)
			}
		}

		logits, err := u.affine(out, "proj.w", "proj.b")
		if err != nil {
			return nil, fmt.Errorf("step %d projection: %w", t, err)
		}
		u.logits = append(u.logits, logits)
	}

	u.h, u.c = h, c
	return u, nil
}

// cell is one LSTM step:
//
//	i, f, o = sigmoid(x Wx + h Wh + b)
//	g       = tanh(x Wx + h Wh + b)
//	c'      = f*c + i*g
//	h'      = o*tanh(c')
func (u *unrolled) cell(x, h, c *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	i, err := u.gate(x, h, "i", gorgonia.Sigmoid)
	if err != nil {
		return nil, nil, err
	}
	f, err := u.gate(x, h, "f", gorgonia.Sigmoid)
	if err != nil {
		return nil, nil, err
	}
	g, err := u.gate(x, h, "g", gorgonia.Tanh)
	if err != nil {
		return nil, nil, err
	}
	o, err := u.gate(x, h, "o", gorgonia.Sigmoid)
	if err != nil {
		return nil, nil, err
	}

	kept, err := gorgonia.HadamardProd(f, c)
	if err != nil {
		return nil, nil, err
	}
	written, err := gorgonia.HadamardProd(i, g)
	if err != nil {
		return nil, nil, err
	}
	cNext, err := gorgonia.Add(kept, written)
	if err != nil {
		return nil, nil, err
	}
	squashed, err := gorgonia.Tanh(cNext)
	if err != nil {
		return nil, nil, err
	}
	hNext, err := gorgonia.HadamardProd(o, squashed)
	if err != nil {
		return nil, nil, err
	}
	return hNext, cNext, nil
}

func (u *unrolled) gate(x, h *gorgonia.Node, name string, act func(*gorgonia.Node) (*gorgonia.Node, error)) (*gorgonia.Node, error) {
	xw, err := u.affine(x, "lstm.wx."+name, "lstm.b."+name)
	if err != nil {
		return nil, err
	}
	hw, err := gorgonia.Mul(h, u.params["lstm.wh."+name])
	if err != nil {
		return nil, err
	}
	pre, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	return act(pre)
}

// affine computes in W + b for a (batch x n) input.
func (u *unrolled) affine(in *gorgonia.Node, w, b string) (*gorgonia.Node, error) {
	prod, err := gorgonia.Mul(in, u.params[w])
	if err != nil {
		return nil, err
	}
	bias, err := gorgonia.Mul(u.ones, u.params[b])
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(prod, bias)
}

// crossEntropy is the mean over batch and steps of -log softmax(logits)[target].
// Each target row is one-hot, so the picked log probability of a row is its
// target logit minus log(sum(exp(logits))).
func (u *unrolled) crossEntropy(y *tensor.Dense, batch, steps int) (*gorgonia.Node, error) {
	ys := stepSlices(y)
	V := y.Shape()[2]

	// Multiplying by a (V x 1) column of ones sums each row.
	rowOnes := gorgonia.NewMatrix(u.g, tensor.Float64,
		gorgonia.WithShape(V, 1),
		gorgonia.WithName("rowones"),
		gorgonia.WithInit(gorgonia.Ones()))

	var total *gorgonia.Node
	for t, logits := range u.logits {
		target := gorgonia.NewMatrix(u.g, tensor.Float64,
			gorgonia.WithShape(batch, V),
			gorgonia.WithName(fmt.Sprintf("y%d", t)),
			gorgonia.WithValue(ys[t]))

		logp, err := u.logLikelihood(logits, target, rowOnes)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		if total == nil {
			total = logp
			continue
		}
		if total, err = gorgonia.Add(total, logp); err != nil {
			return nil, err
		}
	}

	mean, err := gorgonia.Div(total, gorgonia.NewConstant(float64(batch*steps)))
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

// logLikelihood sums log softmax(logits)[target] over the rows of one step.
// Logits stay small because they project a tanh-bounded hidden state, so exp
// is taken without a max shift.
func (u *unrolled) logLikelihood(logits, target, rowOnes *gorgonia.Node) (*gorgonia.Node, error) {
	exp, err := gorgonia.Exp(logits)
	if err != nil {
		return nil, err
	}
	norm, err := gorgonia.Mul(exp, rowOnes)
	if err != nil {
		return nil, err
	}
	logNorm, err := gorgonia.Log(norm)
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(logits, target)
	if err != nil {
		return nil, err
	}
	pickedSum, err := gorgonia.Sum(picked)
	if err != nil {
		return nil, err
	}
	normSum, err := gorgonia.Sum(logNorm)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sub(pickedSum, normSum)
}

// learnables returns the graph nodes for params, in the same order.
func (u *unrolled) learnables(params []*Param) gorgonia.Nodes {
	nodes := make(gorgonia.Nodes, len(params))
	for i, p := range params {
		nodes[i] = u.params[p.name]
	}
	return nodes
}

func (u *unrolled) finalState(layers int) (State, error) {
	hidden, err := stateTensor(u.h, layers)
	if err != nil {
		return State{}, fmt.Errorf("final hidden state: %w", err)
	}
	cell, err := stateTensor(u.c, layers)
	if err != nil {
		return State{}, fmt.Errorf("final cell state: %w", err)
	}
	return State{Hidden: hidden, Cell: cell}, nil
}

func stateTensor(n *gorgonia.Node, layers int) (*tensor.Dense, error) {
	data, ok := n.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", n.Value().Data())
	}
	s := n.Shape()
	backing := append([]float64(nil), data...)
	return tensor.New(tensor.WithShape(layers, s[0], s[1]), tensor.WithBacking(backing)), nil
}

// layerSlice copies the single layer of a (1 x batch x hidden) state into a
// (batch x hidden) matrix.
func layerSlice(t *tensor.Dense, batch, hidden int) *tensor.Dense {
	data := t.Data().([]float64)
	backing := append([]float64(nil), data[:batch*hidden]...)
	return tensor.New(tensor.WithShape(batch, hidden), tensor.WithBacking(backing))
}

// stepSlices splits a (batch x steps x n) tensor into steps (batch x n) matrices.
func stepSlices(x *tensor.Dense) []*tensor.Dense {
	s := x.Shape()
	batch, steps, n := s[0], s[1], s[2]
	data := x.Data().([]float64)

	out := make([]*tensor.Dense, steps)
	for t := 0; t < steps; t++ {
		backing := make([]float64, batch*n)
		for b := 0; b < batch; b++ {
			off := (b*steps + t) * n
			copy(backing[b*n:(b+1)*n], data[off:off+n])
		}
		out[t] = tensor.New(tensor.WithShape(batch, n), tensor.WithBacking(backing))
	}
	return out
}

// dropoutMask zeroes each unit with probability Dropout and scales the
// survivors by 1/(1-Dropout).
func (m *Model) dropoutMask(rows, cols int) *tensor.Dense {
	p := m.cfg.Dropout
	scale := 1 / (1 - p)
	backing := make([]float64, rows*cols)
	for i := range backing {
		if m.rng.Float64() >= p {
			backing[i] = scale
		}
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
}
