package model

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-cnn/internal/tensor"
)

const formatVersion = 1

var (
	ErrVersion        = errors.New("model: unsupported format version")
	ErrLayoutMismatch = errors.New("model: layout mismatch")
)

type savedParameters struct {
	Name   string    `cbor:"1,keyasint"`
	Dims   []int     `cbor:"2,keyasint"`
	Batch  int       `cbor:"3,keyasint"`
	Values []float64 `cbor:"4,keyasint"`
}

type savedLookup struct {
	Name  string      `cbor:"1,keyasint"`
	Dims  []int       `cbor:"2,keyasint"`
	Batch int         `cbor:"3,keyasint"`
	Rows  [][]float64 `cbor:"4,keyasint"`
}

type savedModel struct {
	Version int               `cbor:"0,keyasint"`
	Params  []savedParameters `cbor:"1,keyasint"`
	Lookups []savedLookup     `cbor:"2,keyasint"`
}

// Save writes names, shapes and values of every parameter. Gradients are
// not saved.
func (m *Model) Save(w io.Writer) error {
	sm := savedModel{Version: formatVersion}
	for _, p := range m.params {
		sm.Params = append(sm.Params, savedParameters{
			Name:   p.Name,
			Dims:   p.Dim.D,
			Batch:  p.Dim.Batch(),
			Values: p.Values.V,
		})
	}
	for _, lp := range m.lookups {
		rows := make([][]float64, len(lp.Values))
		for i, v := range lp.Values {
			rows[i] = v.V
		}
		sm.Lookups = append(sm.Lookups, savedLookup{
			Name:  lp.Name,
			Dims:  lp.Dim.D,
			Batch: lp.Dim.Batch(),
			Rows:  rows,
		})
	}
	if err := cbor.NewEncoder(w).Encode(sm); err != nil {
		persistOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	persistOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Load reads a stream written by Save into a model with the same
// parameter layout. Nothing is modified unless the whole stream matches.
func (m *Model) Load(r io.Reader) error {
	if err := m.load(r); err != nil {
		persistOps.WithLabelValues("load", "error").Inc()
		return err
	}
	persistOps.WithLabelValues("load", "ok").Inc()
	return nil
}

func (m *Model) load(r io.Reader) error {
	var sm savedModel
	if err := cbor.NewDecoder(r).Decode(&sm); err != nil {
		return fmt.Errorf("failed to decode model: %w", err)
	}
	if sm.Version != formatVersion {
		return fmt.Errorf("%w: %d", ErrVersion, sm.Version)
	}
	if len(sm.Params) != len(m.params) || len(sm.Lookups) != len(m.lookups) {
		return fmt.Errorf("%w: stream has %d parameters and %d lookups, model has %d and %d",
			ErrLayoutMismatch, len(sm.Params), len(sm.Lookups), len(m.params), len(m.lookups))
	}
	for i, sp := range sm.Params {
		p := m.params[i]
		if !tensor.NewBatchDim(sp.Dims, sp.Batch).Equal(p.Dim) || len(sp.Values) != p.Size() {
			return fmt.Errorf("%w: parameter %d (%q) has shape %v, model expects %v",
				ErrLayoutMismatch, i, sp.Name, tensor.NewBatchDim(sp.Dims, sp.Batch), p.Dim)
		}
	}
	for i, sl := range sm.Lookups {
		lp := m.lookups[i]
		if !tensor.NewBatchDim(sl.Dims, sl.Batch).Equal(lp.Dim) || len(sl.Rows) != len(lp.Values) {
			return fmt.Errorf("%w: lookup %d (%q) has %d rows of %v, model expects %d of %v",
				ErrLayoutMismatch, i, sl.Name, len(sl.Rows), tensor.NewBatchDim(sl.Dims, sl.Batch), len(lp.Values), lp.Dim)
		}
		for j, row := range sl.Rows {
			if len(row) != lp.Dim.Size() {
				return fmt.Errorf("%w: lookup %q row %d has %d values", ErrLayoutMismatch, sl.Name, j, len(row))
			}
		}
	}

	for i, sp := range sm.Params {
		tensor.SetElements(m.params[i].Values, sp.Values)
		m.params[i].Name = sp.Name
	}
	for i, sl := range sm.Lookups {
		lp := m.lookups[i]
		for j, row := range sl.Rows {
			tensor.SetElements(lp.Values[j], row)
		}
		lp.Name = sl.Name
	}
	log.Debug().Int("params", len(sm.Params)).Int("lookups", len(sm.Lookups)).Msg("model loaded")
	return nil
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := m.Save(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	log.Debug().Str("path", path).Msg("model saved")
	return nil
}

// LoadFile reads a model written by SaveFile.
func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()
	return m.Load(bufio.NewReader(f))
}
