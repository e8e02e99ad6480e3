package experiment

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Checkpoint files carry the model parameters in traversal order plus the
// training progress needed to resume: a magic header, the epoch, the best
// validation score, then one record per parameter.

var checkpointMagic = [4]byte{'B', 'G', 'C', 'K'}

const checkpointVersion uint32 = 1

// State is the resumable part of a training run.
type State struct {
	Epoch     int
	BestScore float64
}

// SaveCheckpoint writes the parameters and training state to path. The
// write goes through a temp file and rename, so a crash mid-save never
// corrupts the previous checkpoint.
func SaveCheckpoint[B tensor.Backend](path string, params []*nn.Parameter[B], state State) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("experiment: create checkpoint: %w", err)
	}

	err = writeCheckpoint(f, params, state)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("experiment: write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeCheckpoint[B tensor.Backend](w io.Writer, params []*nn.Parameter[B], state State) error {
	if _, err := w.Write(checkpointMagic[:]); err != nil {
		return err
	}
	header := []uint64{
		uint64(checkpointVersion),
		uint64(state.Epoch),
		math.Float64bits(state.BestScore),
		uint64(len(params)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, p := range params {
		raw := p.Tensor().Raw()
		shape := raw.Shape()
		if err := binary.Write(w, binary.LittleEndian, uint32(len(shape))); err != nil {
			return err
		}
		for _, d := range shape {
			if err := binary.Write(w, binary.LittleEndian, uint64(d)); err != nil {
				return err
			}
		}
		if _, err := w.Write(raw.Data()); err != nil {
			return err
		}
	}
	return nil
}

// LoadCheckpoint restores parameters in traversal order from path. The
// parameter list must come from the same architecture that was saved;
// shape mismatches fail rather than silently truncating.
func LoadCheckpoint[B tensor.Backend](path string, params []*nn.Parameter[B]) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("experiment: open checkpoint: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil || magic != checkpointMagic {
		return State{}, fmt.Errorf("experiment: %s is not a checkpoint", path)
	}
	var header [4]uint64
	for i := range header {
		if err := binary.Read(f, binary.LittleEndian, &header[i]); err != nil {
			return State{}, fmt.Errorf("experiment: checkpoint header: %w", err)
		}
	}
	if uint32(header[0]) != checkpointVersion {
		return State{}, fmt.Errorf("experiment: checkpoint version %d, want %d", header[0], checkpointVersion)
	}
	if int(header[3]) != len(params) {
		return State{}, fmt.Errorf("experiment: checkpoint has %d parameters, model has %d", header[3], len(params))
	}

	for i, p := range params {
		raw := p.Tensor().Raw()
		var rank uint32
		if err := binary.Read(f, binary.LittleEndian, &rank); err != nil {
			return State{}, fmt.Errorf("experiment: parameter %d: %w", i, err)
		}
		shape := make(tensor.Shape, rank)
		for j := range shape {
			var d uint64
			if err := binary.Read(f, binary.LittleEndian, &d); err != nil {
				return State{}, fmt.Errorf("experiment: parameter %d: %w", i, err)
			}
			shape[j] = int(d)
		}
		if !shape.Equal(raw.Shape()) {
			return State{}, fmt.Errorf("experiment: parameter %d shape %v, model wants %v", i, shape, raw.Shape())
		}
		if _, err := io.ReadFull(f, raw.Data()); err != nil {
			return State{}, fmt.Errorf("experiment: parameter %d data: %w", i, err)
		}
	}

	return State{
		Epoch:     int(header[1]),
		BestScore: math.Float64frombits(header[2]),
	}, nil
}
