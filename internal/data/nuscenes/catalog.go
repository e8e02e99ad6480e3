// Package nuscenes reads the nuScenes catalog and ground-truth occupancy
// labels, exposing the front-camera keyframes as a training dataset.
package nuscenes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// The catalog table records, trimmed to the fields the dataset needs.

type sceneRecord struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type sampleRecord struct {
	Token      string `json:"token"`
	SceneToken string `json:"scene_token"`
}

type sampleDataRecord struct {
	Token                 string `json:"token"`
	SampleToken           string `json:"sample_token"`
	CalibratedSensorToken string `json:"calibrated_sensor_token"`
	Filename              string `json:"filename"`
	IsKeyFrame            bool   `json:"is_key_frame"`
}

type calibratedSensorRecord struct {
	Token           string      `json:"token"`
	SensorToken     string      `json:"sensor_token"`
	CameraIntrinsic [][]float32 `json:"camera_intrinsic"`
}

type sensorRecord struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// Record is one front-camera keyframe: the image location, its camera
// intrinsics, and the tokens tying it back to the catalog.
type Record struct {
	SampleToken string
	SceneName   string
	Filename    string
	Intrinsics  [9]float32 // row-major 3x3
}

// Catalog is the loaded nuScenes metadata, indexed for keyframe lookup.
type Catalog struct {
	root    string
	version string

	scenes  []sceneRecord
	records []Record // front-camera keyframes in table order

	bySceneName map[string][]int // scene name -> record indices
}

// frontCamera is the only channel the monocular models consume.
const frontCamera = "CAM_FRONT"

// LoadCatalog reads the catalog tables under root/version.
func LoadCatalog(root, version string) (*Catalog, error) {
	c := &Catalog{root: root, version: version, bySceneName: map[string][]int{}}

	var (
		samples    []sampleRecord
		sampleData []sampleDataRecord
		calSensors []calibratedSensorRecord
		sensors    []sensorRecord
	)
	tables := []struct {
		name string
		dst  any
	}{
		{"scene.json", &c.scenes},
		{"sample.json", &samples},
		{"sample_data.json", &sampleData},
		{"calibrated_sensor.json", &calSensors},
		{"sensor.json", &sensors},
	}
	for _, t := range tables {
		if err := readTable(filepath.Join(root, version, t.name), t.dst); err != nil {
			return nil, err
		}
	}

	sceneName := make(map[string]string, len(c.scenes))
	for _, s := range c.scenes {
		sceneName[s.Token] = s.Name
	}
	sampleScene := make(map[string]string, len(samples))
	for _, s := range samples {
		sampleScene[s.Token] = sceneName[s.SceneToken]
	}
	channel := make(map[string]string, len(sensors))
	for _, s := range sensors {
		channel[s.Token] = s.Channel
	}
	calibration := make(map[string]calibratedSensorRecord, len(calSensors))
	for _, cs := range calSensors {
		calibration[cs.Token] = cs
	}

	for _, sd := range sampleData {
		if !sd.IsKeyFrame {
			continue
		}
		cs, ok := calibration[sd.CalibratedSensorToken]
		if !ok || channel[cs.SensorToken] != frontCamera {
			continue
		}
		rec := Record{
			SampleToken: sd.SampleToken,
			SceneName:   sampleScene[sd.SampleToken],
			Filename:    sd.Filename,
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rec.Intrinsics[i*3+j] = cs.CameraIntrinsic[i][j]
			}
		}
		c.bySceneName[rec.SceneName] = append(c.bySceneName[rec.SceneName], len(c.records))
		c.records = append(c.records, rec)
	}
	return c, nil
}

func readTable(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("nuscenes: read table: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("nuscenes: parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SceneNames lists every scene in catalog order.
func (c *Catalog) SceneNames() []string {
	names := make([]string, len(c.scenes))
	for i, s := range c.scenes {
		names[i] = s.Name
	}
	return names
}

// Records returns the front-camera keyframes of the named scenes, in scene
// order. Unknown names are skipped.
func (c *Catalog) Records(sceneNames []string) []Record {
	var out []Record
	for _, name := range sceneNames {
		for _, idx := range c.bySceneName[name] {
			out = append(out, c.records[idx])
		}
	}
	return out
}

// ImagePath resolves a record's image file under the data root.
func (c *Catalog) ImagePath(r Record) string {
	return filepath.Join(c.root, r.Filename)
}
