package scene

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"citygen/internal/domain"
	"citygen/internal/providers"
	"citygen/internal/storage"
)

func newStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestReadBoundsASCII(t *testing.T) {
	box, err := ReadBounds(BoxPLY(20, 10, 12))
	require.NoError(t, err)
	require.InDelta(t, -10, box.Min.X, 1e-9)
	require.InDelta(t, 10, box.Max.X, 1e-9)
	require.InDelta(t, 0, box.Min.Y, 1e-9)
	require.InDelta(t, 12, box.Max.Y, 1e-9)
	require.InDelta(t, -5, box.Min.Z, 1e-9)
	require.InDelta(t, 5, box.Max.Z, 1e-9)
}

func TestReadBoundsBinaryLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 2\n")
	buf.WriteString("property float x\nproperty float y\nproperty float z\nproperty uchar opacity\nend_header\n")
	for _, v := range [][3]float32{{-1, 0, 2}, {3, 4, -5}} {
		for _, c := range v {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, c))
		}
		buf.WriteByte(255)
	}

	box, err := ReadBounds(buf.Bytes())
	require.NoError(t, err)
	require.InDelta(t, -1, box.Min.X, 1e-6)
	require.InDelta(t, 3, box.Max.X, 1e-6)
	require.InDelta(t, 4, box.Max.Y, 1e-6)
	require.InDelta(t, -5, box.Min.Z, 1e-6)
	require.InDelta(t, 2, box.Max.Z, 1e-6)
}

func TestReadBoundsRejectsGarbage(t *testing.T) {
	_, err := ReadBounds([]byte("not a model"))
	require.Error(t, err)

	_, err = ReadBounds([]byte("ply\nformat ascii 1.0\nelement vertex 3\nproperty float x\nend_header\n1\n2\n3\n"))
	require.Error(t, err)

	_, err = ReadBounds([]byte("ply\nformat binary_little_endian 1.0\nelement vertex 4\nproperty float x\nproperty float y\nproperty float z\nend_header\n"))
	require.Error(t, err)
}

func TestReadBoundsRejectsOversizedVertexCount(t *testing.T) {
	// 12 * 2^62 wraps to 0 in int arithmetic.
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 4611686018427387904\n")
	buf.WriteString("property float x\nproperty float y\nproperty float z\nend_header\n")
	buf.Write(make([]byte, 24))
	require.NotPanics(t, func() {
		_, err := ReadBounds(buf.Bytes())
		require.Error(t, err)
	})

	ascii := []byte("ply\nformat ascii 1.0\nelement vertex 9223372036854775807\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n")
	_, err := ReadBounds(ascii)
	require.ErrorContains(t, err, "declares")
}

func TestWorldBoundsRotatesThenTranslates(t *testing.T) {
	local, err := ReadBounds(BoxPLY(20, 10, 12))
	require.NoError(t, err)

	world := WorldBounds(local, 1, domain.Vec3{Y: 90}, domain.Vec3{X: 100, Z: -50})
	// a quarter turn about Y swaps the footprint extents
	require.InDelta(t, 10, world.Max.X-world.Min.X, 1e-6)
	require.InDelta(t, 20, world.Max.Z-world.Min.Z, 1e-6)
	require.InDelta(t, 100, (world.Max.X+world.Min.X)/2, 1e-6)
	require.InDelta(t, -50, (world.Max.Z+world.Min.Z)/2, 1e-6)
	require.InDelta(t, 0, world.Min.Y, 1e-6)

	scaled := WorldBounds(local, 2, domain.Vec3{}, domain.Vec3{})
	require.InDelta(t, 24, scaled.Max.Y, 1e-6)
}

func TestRotateXYZIdentity(t *testing.T) {
	p := RotateXYZ(toR3(domain.Vec3{X: 1, Y: 2, Z: 3}), domain.Vec3{})
	require.InDelta(t, 1, p.X, 1e-12)
	require.InDelta(t, 2, p.Y, 1e-12)
	require.InDelta(t, 3, p.Z, 1e-12)

	q := RotateXYZ(toR3(domain.Vec3{X: 1}), domain.Vec3{Z: 90})
	require.InDelta(t, 0, q.X, 1e-9)
	require.InDelta(t, 1, q.Y, 1e-9)
}

func TestMergeNeverMutatesBase(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	model, err := store.Put(ctx, domain.MediaModel, "application/x-ply", BoxPLY(4, 4, 4))
	require.NoError(t, err)
	merger := NewMerger(store, MergerOptions{})

	first, err := merger.MergeIntoScene(ctx, nil, model, domain.Vec3{}, domain.Vec3{})
	require.NoError(t, err)
	second, err := merger.MergeIntoScene(ctx, &first, model, domain.Vec3{X: 10}, domain.Vec3{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, domain.MediaScene, second.Kind)

	m1, err := LoadManifest(ctx, store, &first)
	require.NoError(t, err)
	require.Len(t, m1.Instances, 1)

	m2, err := LoadManifest(ctx, store, &second)
	require.NoError(t, err)
	require.Len(t, m2.Instances, 2)
	require.InDelta(t, 8, m2.Instances[1].Min.X, 1e-9)
	require.InDelta(t, 12, m2.Instances[1].Max.X, 1e-9)
}

func TestMergeRejectsUnreadableModel(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	model, err := store.Put(ctx, domain.MediaModel, "application/x-ply", []byte("broken"))
	require.NoError(t, err)

	_, err = NewMerger(store, MergerOptions{}).MergeIntoScene(ctx, nil, model, domain.Vec3{}, domain.Vec3{})
	require.Error(t, err)
}

func TestSnapshotRendersPNG(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	model, err := store.Put(ctx, domain.MediaModel, "application/x-ply", BoxPLY(10, 10, 10))
	require.NoError(t, err)
	scene, err := NewMerger(store, MergerOptions{}).MergeIntoScene(ctx, nil, model, domain.Vec3{X: 5}, domain.Vec3{})
	require.NoError(t, err)

	r := NewRenderer(store, RendererOptions{Size: 64})
	cases := []providers.SnapshotRequest{
		{Mode: providers.SnapshotPanoramic},
		{Mode: providers.SnapshotTopDown},
		{Mode: providers.SnapshotLocal, Target: &domain.Vec3{X: 5}},
	}
	for _, req := range cases {
		h, err := r.Snapshot(ctx, &scene, req)
		require.NoError(t, err, req.Mode)
		require.Equal(t, domain.MediaImage, h.Kind)
		data, err := store.Load(ctx, h)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, 64, img.Bounds().Dx())
	}

	empty, err := r.Snapshot(ctx, nil, providers.SnapshotRequest{Mode: providers.SnapshotPanoramic})
	require.NoError(t, err)
	require.NotEmpty(t, empty.Location)

	_, err = r.Snapshot(ctx, &scene, providers.SnapshotRequest{Mode: providers.SnapshotLocal})
	require.Error(t, err)
}

func TestSwatchIsStable(t *testing.T) {
	require.Equal(t, Swatch("abc", 1), Swatch("abc", 1))
	require.NotEqual(t, Swatch("abc", 0), Swatch("abd", 0))
	require.Equal(t, uint8(255), Swatch("", 3).A)
}
