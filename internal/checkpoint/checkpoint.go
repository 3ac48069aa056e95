// Package checkpoint persists trained parameters and the loss history.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"

	"gorgonia.org/tensor"
)

// Checkpoint is written once after training and read back wholesale.
type Checkpoint struct {
	Params map[string]*tensor.Dense
	Losses []float64
}

// record is the on-disk form; tensors are stored as shape plus float64 data.
type record struct {
	Params map[string]tensorRecord
	Losses []float64
}

type tensorRecord struct {
	Shape []int
	Data  []float64
}

func Save(path string, c *Checkpoint) error {
	rec := record{
		Params: make(map[string]tensorRecord, len(c.Params)),
		Losses: c.Losses,
	}
	for name, t := range c.Params {
		data, ok := t.Data().([]float64)
		if !ok {
			return fmt.Errorf("param %q: unsupported dtype %v", name, t.Dtype())
		}
		rec.Params[name] = tensorRecord{Shape: []int(t.Shape().Clone()), Data: data}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return f.Close()
}

func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var rec record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	c := &Checkpoint{
		Params: make(map[string]*tensor.Dense, len(rec.Params)),
		Losses: rec.Losses,
	}
	for name, tr := range rec.Params {
		size := 1
		for _, d := range tr.Shape {
			size *= d
		}
		if len(tr.Shape) == 0 || size != len(tr.Data) {
			return nil, fmt.Errorf("param %q: shape %v does not match %d values", name, tr.Shape, len(tr.Data))
		}
		c.Params[name] = tensor.New(tensor.WithShape(tr.Shape...), tensor.WithBacking(tr.Data))
	}
	return c, nil
}
