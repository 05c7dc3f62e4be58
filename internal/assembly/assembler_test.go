package assembly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"citygen/internal/domain"
	"citygen/internal/providers"
)

type fakeScene struct {
	mu sync.Mutex

	// layout returns the raw layout answer for a call index.
	layout func(call int) string
	// judge decides on a placement given the QA prompt.
	judge func(prompt string) (domain.Verdict, error)

	layoutCalls int
	merges      int
	mergeBases  []string
	views       []map[string]domain.Handle
	snapErr     error
}

func (f *fakeScene) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layoutCalls++
	if f.layout != nil {
		return f.layout(f.layoutCalls), nil
	}
	return `{"position": [1, 0, 2], "rotation": [0, 90, 0]}`, nil
}

func (f *fakeScene) EvaluateImage(ctx context.Context, image domain.Handle, prompt string) (domain.Verdict, error) {
	return domain.Verdict{}, errors.New("not used")
}

func (f *fakeScene) EvaluateVideo(ctx context.Context, video domain.Handle, prompt string) (domain.Verdict, error) {
	return domain.Verdict{}, errors.New("not used")
}

func (f *fakeScene) EvaluateMultiImage(ctx context.Context, images map[string]domain.Handle, prompt string) (domain.Verdict, error) {
	f.mu.Lock()
	f.views = append(f.views, images)
	f.mu.Unlock()
	if f.judge != nil {
		return f.judge(prompt)
	}
	return domain.Verdict{Accepted: true}, nil
}

func (f *fakeScene) MergeIntoScene(ctx context.Context, base *domain.Handle, model domain.Handle, position, rotation domain.Vec3) (domain.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	baseID := "<empty>"
	if base != nil {
		baseID = base.ID
	}
	f.mergeBases = append(f.mergeBases, baseID)
	return domain.Handle{ID: fmt.Sprintf("scene-%d", f.merges), Kind: domain.MediaScene}, nil
}

func (f *fakeScene) Snapshot(ctx context.Context, scene *domain.Handle, req providers.SnapshotRequest) (domain.Handle, error) {
	if f.snapErr != nil && req.Label == "final" {
		return domain.Handle{}, f.snapErr
	}
	return domain.Handle{ID: req.Label, Kind: domain.MediaImage}, nil
}

func (f *fakeScene) suite() providers.Suite {
	return providers.Suite{Text: f, Evaluator: f, Merger: f, Snapshotter: f}
}

func entry(key, kind string) domain.LibraryEntry {
	id, _, _ := strings.Cut(key, "_")
	return domain.LibraryEntry{Key: key, Asset: domain.GeneratedAsset{
		AssetID: id,
		Kind:    kind,
		Model:   domain.Handle{ID: "model-" + key, Kind: domain.MediaModel},
	}}
}

func TestOrderPutsBuildingsFirstStably(t *testing.T) {
	in := []domain.LibraryEntry{
		entry("L_1", "prop_static"),
		entry("B_2", "building"),
		entry("V_3", "vehicle"),
		entry("C_4", "Building"),
		entry("T_5", "vegetation"),
	}
	var keys []string
	for _, e := range Order(in) {
		keys = append(keys, e.Key)
	}
	require.Equal(t, []string{"B_2", "C_4", "L_1", "V_3", "T_5"}, keys)
	require.Equal(t, "L_1", in[0].Key, "input must not be reordered")
}

func TestAssembleSkipsExhaustedAsset(t *testing.T) {
	f := &fakeScene{judge: func(prompt string) (domain.Verdict, error) {
		if strings.Contains(prompt, "A_1") {
			return domain.Reject("floating above the road", "grounding"), nil
		}
		return domain.Verdict{Accepted: true}, nil
	}}
	res, err := New(f.suite(), Options{PlacementAttempts: 3}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building"), entry("B_2", "building")})
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	require.Equal(t, "B_2", res.Placements[0].InstanceKey)
	require.Equal(t, []string{"A_1"}, res.Skipped)
	require.Equal(t, "final", res.Snapshot.ID)

	// three rejected attempts for A, one accepted for B, all on the empty base
	require.Equal(t, []string{"<empty>", "<empty>", "<empty>", "<empty>"}, f.mergeBases)
	require.Equal(t, "scene-4", res.Scene.ID)
}

func TestAssembleThreadsAcceptedSceneOnly(t *testing.T) {
	calls := 0
	f := &fakeScene{judge: func(prompt string) (domain.Verdict, error) {
		calls++
		// second asset is rejected once before acceptance
		return domain.Verdict{Accepted: calls != 2}, nil
	}}
	res, err := New(f.suite(), Options{}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building"), entry("B_2", "prop_static")})
	require.NoError(t, err)
	require.Len(t, res.Placements, 2)
	// B's rejected candidate (scene-2) is never used as a base
	require.Equal(t, []string{"<empty>", "scene-1", "scene-1"}, f.mergeBases)
	require.Equal(t, "scene-3", res.Scene.ID)
}

func TestAssembleStateGrowsMonotonically(t *testing.T) {
	calls := 0
	f := &fakeScene{judge: func(prompt string) (domain.Verdict, error) {
		calls++
		return domain.Verdict{Accepted: calls%2 == 1}, nil
	}}
	var history []domain.SceneState
	var placedFlags []bool
	entries := []domain.LibraryEntry{
		entry("A_1", "building"), entry("B_2", "building"), entry("C_3", "vehicle"), entry("D_4", "prop_static"),
	}
	res, err := New(f.suite(), Options{
		PlacementAttempts: 1,
		OnProgress: func(key string, placed bool, state domain.SceneState) {
			history = append(history, state)
			placedFlags = append(placedFlags, placed)
		},
	}).Assemble(context.Background(), domain.Plan{}, entries)
	require.NoError(t, err)
	require.Len(t, history, len(entries))
	require.LessOrEqual(t, len(res.Placements), len(entries))

	var prev domain.SceneState
	for i, s := range history {
		require.GreaterOrEqual(t, len(s.Placements), len(prev.Placements))
		for j, rec := range prev.Placements {
			require.Equal(t, rec, s.Placements[j], "placements must only be appended")
		}
		if placedFlags[i] {
			require.Len(t, s.Placements, len(prev.Placements)+1)
			require.NotEqual(t, prev.Scene, s.Scene)
		} else {
			require.Equal(t, prev.Scene, s.Scene, "scene changes only on acceptance")
		}
		prev = s
	}
}

func TestAssembleFailsWhenNothingPlaced(t *testing.T) {
	f := &fakeScene{judge: func(string) (domain.Verdict, error) { return domain.Reject("collision"), nil }}
	_, err := New(f.suite(), Options{PlacementAttempts: 2}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building")})
	require.ErrorIs(t, err, domain.ErrNoPlacements)
}

func TestAssembleEmptyLibrary(t *testing.T) {
	f := &fakeScene{}
	_, err := New(f.suite(), Options{}).Assemble(context.Background(), domain.Plan{}, nil)
	require.ErrorIs(t, err, domain.ErrEmptyLibrary)
}

func TestAssembleRetriesMalformedProposal(t *testing.T) {
	f := &fakeScene{layout: func(call int) string {
		if call == 1 {
			return "I would put it near the plaza."
		}
		return "```json\n{\"position\": {\"x\": 5, \"y\": 0, \"z\": -3}, \"rotation\": [0, 45, 0]}\n```"
	}}
	res, err := New(f.suite(), Options{}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building")})
	require.NoError(t, err)
	require.Equal(t, 2, f.layoutCalls)
	require.Equal(t, 1, f.merges, "malformed proposal must not reach the merger")
	require.Equal(t, domain.Vec3{X: 5, Z: -3}, res.Placements[0].Position)
	require.Equal(t, domain.Vec3{Y: 45}, res.Placements[0].Rotation)
}

func TestAssemblePassesAllFourViews(t *testing.T) {
	f := &fakeScene{}
	_, err := New(f.suite(), Options{}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building")})
	require.NoError(t, err)
	require.Len(t, f.views, 1)
	for _, key := range []string{ViewLocalBefore, ViewLocalAfter, ViewPanoramicBefore, ViewPanoramicAfter} {
		h, ok := f.views[0][key]
		require.True(t, ok, "missing view %s", key)
		require.Equal(t, "A_1/"+key, h.ID)
	}
}

func TestAssembleFinalSnapshotFailure(t *testing.T) {
	f := &fakeScene{snapErr: errors.New("renderer offline")}
	_, err := New(f.suite(), Options{}).Assemble(context.Background(), domain.Plan{},
		[]domain.LibraryEntry{entry("A_1", "building")})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNoPlacements)
}
