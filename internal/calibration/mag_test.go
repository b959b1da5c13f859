package calibration

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_compass/internal/heading"
)

var (
	testOffset = heading.Vector3{X: 10, Y: -5, Z: 3}
	testScale  = heading.Vector3{X: 40, Y: 50, Z: 45}
)

func distort(v heading.Vector3) heading.Vector3 {
	return heading.Vector3{
		X: v.X*testScale.X + testOffset.X,
		Y: v.Y*testScale.Y + testOffset.Y,
		Z: v.Z*testScale.Z + testOffset.Z,
	}
}

// sphere samples unit directions on a 15° grid, poles and axes included.
func sphere() []heading.Vector3 {
	var out []heading.Vector3
	for lat := -90; lat <= 90; lat += 15 {
		for lon := 0; lon < 360; lon += 15 {
			la := float64(lat) * math.Pi / 180
			lo := float64(lon) * math.Pi / 180
			out = append(out, heading.Vector3{
				X: math.Cos(la) * math.Cos(lo),
				Y: math.Cos(la) * math.Sin(lo),
				Z: math.Sin(la),
			})
		}
	}
	return out
}

func TestComputeMagRecoversOffsetAndScale(t *testing.T) {
	var raw []heading.Vector3
	for _, v := range sphere() {
		raw = append(raw, distort(v))
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := ComputeMag(raw, "hmc", at)
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, c.SchemaVersion)
	assert.Equal(t, "2026-03-01T12:00:00Z", c.CalibrationAt)
	assert.Equal(t, "hmc", c.Source)
	assert.Equal(t, len(raw), c.MagStats.Samples)
	assert.Empty(t, c.MagStats.Notes)

	assert.InDelta(t, testOffset.X, c.MagOffset.X, 1e-9)
	assert.InDelta(t, testOffset.Y, c.MagOffset.Y, 1e-9)
	assert.InDelta(t, testOffset.Z, c.MagOffset.Z, 1e-9)
	assert.InDelta(t, testScale.X, c.MagScale.X, 1e-9)
	assert.InDelta(t, testScale.Y, c.MagScale.Y, 1e-9)
	assert.InDelta(t, testScale.Z, c.MagScale.Z, 1e-9)

	assert.InDelta(t, 1.0, c.Confidence.Sphericity, 1e-6)
	assert.Greater(t, c.Confidence.Overall, 0.8)
}

func TestApplyUndoesDistortion(t *testing.T) {
	c, err := ComputeMag(func() []heading.Vector3 {
		var raw []heading.Vector3
		for _, v := range sphere() {
			raw = append(raw, distort(v))
		}
		return raw
	}(), "imu_left", time.Now())
	require.NoError(t, err)

	field := heading.Vector3{X: 0.3, Y: 0.4, Z: -0.866}
	got := c.Apply(distort(field))
	assert.InDelta(t, field.X, got.X, 1e-9)
	assert.InDelta(t, field.Y, got.Y, 1e-9)
	assert.InDelta(t, field.Z, got.Z, 1e-9)
}

func TestComputeMagInsufficientExcitation(t *testing.T) {
	flat := []heading.Vector3{{X: 20, Y: 5, Z: -40}, {X: 20.2, Y: 5.1, Z: -40}}
	c, err := ComputeMag(flat, "hmc", time.Now())
	require.NoError(t, err)

	assert.Equal(t, Vec3{X: 1, Y: 1, Z: 1}, c.MagScale)
	assert.InDelta(t, 20.1, c.MagOffset.X, 1e-9)
	assert.Equal(t, confFloor, c.Confidence.Overall)
	require.Len(t, c.MagStats.Notes, 1)
	assert.Contains(t, c.MagStats.Notes[0], "insufficient_mag_excitation")
}

func TestComputeMagNoSamples(t *testing.T) {
	_, err := ComputeMag(nil, "hmc", time.Now())
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestSphericityNeedsEnoughSamples(t *testing.T) {
	var raw []heading.Vector3
	for _, v := range []heading.Vector3{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1}} {
		raw = append(raw, distort(v))
	}

	c, err := ComputeMag(raw, "hmc", time.Now())
	require.NoError(t, err)
	assert.Empty(t, c.MagStats.Notes)
	assert.Equal(t, confFloor, c.Confidence.Sphericity)
	assert.Greater(t, c.Confidence.Coverage, confFloor)
}

func TestSaveLoad(t *testing.T) {
	var raw []heading.Vector3
	for _, v := range sphere() {
		raw = append(raw, distort(v))
	}
	c, err := ComputeMag(raw, "hmc", time.Now())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mag_calibration.json")
	require.NoError(t, c.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("Load(Save(c)) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := &MagCalibration{SchemaVersion: 99, MagScale: Vec3{X: 1, Y: 1, Z: 1}}
	path := filepath.Join(dir, "v99.json")
	require.NoError(t, bad.Save(path))
	_, err = Load(path)
	assert.ErrorContains(t, err, "schema_version")

	zero := &MagCalibration{SchemaVersion: SchemaVersion, MagScale: Vec3{X: 1, Z: 1}}
	path = filepath.Join(dir, "zero.json")
	require.NoError(t, zero.Save(path))
	_, err = Load(path)
	assert.ErrorContains(t, err, "zero axis")
}
