package main

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-cnn/internal/model"
)

// dumpSchema has one row per dense parameter and one per lookup row.
var dumpSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "row", Type: arrow.PrimitiveTypes.Int32},
		{Name: "dims", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

func parametersRecord(m *model.Model, pool memory.Allocator) arrow.RecordBatch {
	names := array.NewStringBuilder(pool)
	defer names.Release()
	kinds := array.NewStringBuilder(pool)
	defer kinds.Release()
	rows := array.NewInt32Builder(pool)
	defer rows.Release()
	dims := array.NewListBuilder(pool, arrow.PrimitiveTypes.Int32)
	defer dims.Release()
	dimVals := dims.ValueBuilder().(*array.Int32Builder)
	vals := array.NewListBuilder(pool, arrow.PrimitiveTypes.Float64)
	defer vals.Release()
	floatVals := vals.ValueBuilder().(*array.Float64Builder)

	n := 0
	appendRow := func(name, kind string, row int, d []int, v []float64) {
		names.Append(name)
		kinds.Append(kind)
		rows.Append(int32(row))
		dims.Append(true)
		for _, k := range d {
			dimVals.Append(int32(k))
		}
		vals.Append(true)
		floatVals.AppendValues(v, nil)
		n++
	}
	for _, p := range m.Parameters() {
		appendRow(p.Name, "parameters", -1, p.Dim.D, p.Values.V)
	}
	for _, lp := range m.LookupParameters() {
		for r, v := range lp.Values {
			appendRow(lp.Name, "lookup", r, lp.Dim.D, v.V)
		}
	}

	cols := []arrow.Array{names.NewArray(), kinds.NewArray(), rows.NewArray(), dims.NewArray(), vals.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecordBatch(dumpSchema, cols, int64(n))
}

// writeArrowStream writes the model's parameter values as one Arrow IPC
// stream record.
func writeArrowStream(w io.Writer, m *model.Model) error {
	rec := parametersRecord(m, memory.NewGoAllocator())
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
