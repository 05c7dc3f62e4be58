package domain

import (
	"encoding/json"
	"fmt"
)

// Vec3 is an (x, y, z) triple. Rotations are Euler angles in degrees.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// UnmarshalJSON accepts either {"x":..,"y":..,"z":..} or [x, y, z].
func (v *Vec3) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 3 {
			return fmt.Errorf("vec3: want 3 components, got %d", len(arr))
		}
		*v = Vec3{X: arr[0], Y: arr[1], Z: arr[2]}
		return nil
	}
	type plain Vec3
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = Vec3(p)
	return nil
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// PlacementRecord is the transform an instance was merged into the scene at.
type PlacementRecord struct {
	InstanceKey string `json:"instance_key"`
	AssetID     string `json:"asset_id"`
	Kind        string `json:"type"`
	Position    Vec3   `json:"position"`
	Rotation    Vec3   `json:"rotation"`
}

// SceneState accumulates placements during assembly. A nil Scene is the
// empty scene.
type SceneState struct {
	Scene      *Handle           `json:"scene,omitempty"`
	Placements []PlacementRecord `json:"placements"`
}

// With returns a new state that extends s by one placement on top of scene.
// s itself is left untouched.
func (s SceneState) With(scene Handle, rec PlacementRecord) SceneState {
	placements := make([]PlacementRecord, len(s.Placements), len(s.Placements)+1)
	copy(placements, s.Placements)
	return SceneState{Scene: &scene, Placements: append(placements, rec)}
}

// SceneResult is the outcome of a successful assembly.
type SceneResult struct {
	Scene      Handle            `json:"scene"`
	Snapshot   Handle            `json:"snapshot"`
	Placements []PlacementRecord `json:"placements"`
	Skipped    []string          `json:"skipped,omitempty"`
}
