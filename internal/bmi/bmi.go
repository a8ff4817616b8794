// Package bmi defines the Basic Model Interface spoken by model containers.
// Containers are reached over the grpc4bmi gRPC service described in
// bmi.proto. A JSON over HTTP transport serves in-process models.
package bmi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
)

// Bmi is the set of calls a hydrological model exposes for external control.
// Array values are flattened in row major order.
type Bmi interface {
	Initialize(ctx context.Context, configFile string) error
	Update(ctx context.Context) error
	UpdateUntil(ctx context.Context, t float64) error
	Finalize(ctx context.Context) error

	GetComponentName(ctx context.Context) (string, error)
	GetInputVarNames(ctx context.Context) ([]string, error)
	GetOutputVarNames(ctx context.Context) ([]string, error)

	GetVarGrid(ctx context.Context, name string) (int, error)
	GetVarType(ctx context.Context, name string) (string, error)
	GetVarUnits(ctx context.Context, name string) (string, error)
	GetVarItemsize(ctx context.Context, name string) (int, error)
	GetVarNbytes(ctx context.Context, name string) (int, error)
	GetVarLocation(ctx context.Context, name string) (string, error)

	GetCurrentTime(ctx context.Context) (float64, error)
	GetStartTime(ctx context.Context) (float64, error)
	GetEndTime(ctx context.Context) (float64, error)
	GetTimeStep(ctx context.Context) (float64, error)
	GetTimeUnits(ctx context.Context) (string, error)

	GetValue(ctx context.Context, name string) ([]float64, error)
	GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error)
	SetValue(ctx context.Context, name string, values []float64) error
	SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error

	GetGridType(ctx context.Context, grid int) (string, error)
	GetGridRank(ctx context.Context, grid int) (int, error)
	GetGridSize(ctx context.Context, grid int) (int, error)
	GetGridShape(ctx context.Context, grid int) ([]int, error)
	GetGridX(ctx context.Context, grid int) ([]float64, error)
	GetGridY(ctx context.Context, grid int) ([]float64, error)
}

// Values encodes NaN and infinities as JSON null and decodes null as NaN.
type Values []float64

func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, x := range raw {
		if x == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *x
	}
	*v = out
	return nil
}
