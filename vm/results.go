package vm

import (
	"fmt"
	"io"
	"sort"

	"github.com/dgryski/go-farm"
	"github.com/shamaton/msgpack/v2"
)

// Results holds one run's output: a name-to-offset table plus a dense
// time-major buffer (Rows saved steps, Stride slots each). It is owned
// exclusively by the run that produced it.
type Results struct {
	Offsets  map[string]int
	Stride   int
	Rows     int
	SaveStep float64
	Data     []float64
}

// Series returns the saved time series for a variable by canonical
// name (nested module variables use dotted paths). The slice is a
// copy; mutating it does not touch the underlying buffer.
func (r *Results) Series(name string) ([]float64, bool) {
	off, ok := r.Offsets[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, r.Rows)
	for i := 0; i < r.Rows; i++ {
		out[i] = r.Data[i*r.Stride+off]
	}
	return out, true
}

// Time returns the saved time column.
func (r *Results) Time() []float64 {
	t, _ := r.Series("time")
	return t
}

// Names returns every saved variable name in offset order.
func (r *Results) Names() []string {
	names := make([]string, 0, len(r.Offsets))
	for n := range r.Offsets {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return r.Offsets[names[i]] < r.Offsets[names[j]] })
	return names
}

func (r *Results) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, r)
}

func (r *Results) Deserialize(rd io.Reader) error {
	return msgpack.UnmarshalRead(rd, r)
}

// Checksum fingerprints the result buffer. Two runs of the same
// compiled program with the same specs produce the same checksum; the
// determinism tests rely on this.
func (r *Results) Checksum() (uint64, error) {
	data, err := msgpack.Marshal(r.Data)
	if err != nil {
		return 0, fmt.Errorf("hashing results: %w", err)
	}
	return farm.Hash64(data), nil
}
