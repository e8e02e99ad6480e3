package nuscenes

import (
	"bufio"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// Splits partitions the scenes by name. Calibration lists the scenes set
// aside for camera calibration experiments; they also appear in Train and
// the data factory subtracts them when the hold-out flag is on.
type Splits struct {
	Train       []string
	Val         []string
	Calibration []string
}

// LoadSplits reads scene lists from dir (train.txt, val.txt,
// calibration.txt, one scene name per line). Missing files fall back to a
// deterministic partition of the catalog scenes, so smoke runs work
// without split files.
func LoadSplits(dir string, scenes []string) Splits {
	s := Splits{
		Train:       readSplitFile(filepath.Join(dir, "train.txt")),
		Val:         readSplitFile(filepath.Join(dir, "val.txt")),
		Calibration: readSplitFile(filepath.Join(dir, "calibration.txt")),
	}
	if s.Train == nil || s.Val == nil {
		// Fall back per file, so a split list the user did provide is
		// never discarded. Generated halves exclude the listed scenes.
		train, val := defaultSplit(scenes)
		if s.Train == nil {
			s.Train = excluding(train, s.Val)
		}
		if s.Val == nil {
			s.Val = excluding(val, s.Train)
		}
	}
	if s.Calibration == nil {
		s.Calibration = defaultCalibration(s.Train)
	}
	return s
}

// excluding filters out of names every scene present in taken.
func excluding(names, taken []string) []string {
	drop := make(map[string]bool, len(taken))
	for _, name := range taken {
		drop[name] = true
	}
	var out []string
	for _, name := range names {
		if !drop[name] {
			out = append(out, name)
		}
	}
	return out
}

func readSplitFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" && !strings.HasPrefix(name, "#") {
			names = append(names, name)
		}
	}
	if scanner.Err() != nil {
		// A half-read list is worse than none; treat it as missing.
		return nil
	}
	return names
}

// defaultSplit sends roughly one scene in five to validation, keyed on the
// scene name so the partition is stable across runs and machines.
func defaultSplit(scenes []string) (train, val []string) {
	for _, name := range scenes {
		if sceneHash(name)%5 == 0 {
			val = append(val, name)
		} else {
			train = append(train, name)
		}
	}
	return train, val
}

// defaultCalibration marks roughly 4% of the training scenes.
func defaultCalibration(train []string) []string {
	var calibration []string
	for _, name := range train {
		if sceneHash(name)%25 == 1 {
			calibration = append(calibration, name)
		}
	}
	return calibration
}

func sceneHash(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
