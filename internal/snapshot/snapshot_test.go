package snapshot

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

// solidPNG encodes a w x h image of c with the rectangle patch filled with pc.
func solidPNG(t *testing.T, w, h int, c color.NRGBA, patch image.Rectangle, pc color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if image.Pt(x, y).In(patch) {
				img.SetNRGBA(x, y, pc)
			} else {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func plain(t *testing.T, w, h int) []byte {
	return solidPNG(t, w, h, white, image.Rectangle{}, white)
}

func TestMatchWritesMissingBaseline(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}

	res, err := m.Match(plain(t, 20, 20), Options{Identifier: "button--primary", SnapshotsDir: dir})
	require.NoError(t, err)
	assert.Equal(t, Added, res.Outcome)
	assert.True(t, res.Pass)
	assert.FileExists(t, filepath.Join(dir, "button--primary-snap.png"))
}

func TestMatchCIRefusesNewBaseline(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{CI: true}

	res, err := m.Match(plain(t, 20, 20), Options{Identifier: "a", SnapshotsDir: dir})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, Failed, res.Outcome)
	assert.Contains(t, res.Message, "New snapshot was not written")
	assert.NoFileExists(t, filepath.Join(dir, "a-snap.png"))
}

func TestMatchIdentical(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir}

	_, err := m.Match(plain(t, 20, 20), opts)
	require.NoError(t, err)
	res, err := m.Match(plain(t, 20, 20), opts)
	require.NoError(t, err)
	assert.Equal(t, Passed, res.Outcome)
	assert.Zero(t, res.DiffPixels)
}

func TestMatchDifferentFailsAndWritesDiff(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir, StoreReceivedOnFailure: true}

	_, err := m.Match(plain(t, 20, 20), opts)
	require.NoError(t, err)

	changed := solidPNG(t, 20, 20, white, image.Rect(5, 5, 15, 15), black)
	res, err := m.Match(changed, opts)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, 100, res.DiffPixels)
	assert.Equal(t, 400, res.TotalPixels)
	assert.InDelta(t, 0.25, res.DiffRatio, 1e-9)
	assert.Contains(t, res.Message, "25% different from snapshot (100 differing pixels)")

	require.FileExists(t, res.DiffPath)
	require.FileExists(t, res.ReceivedPath)
	f, err := os.Open(res.DiffPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Width, "baseline, diff and received side by side")
	assert.Equal(t, 20, cfg.Height)
}

func TestMatchVerticalDiff(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir, DiffDirection: Vertical}

	_, err := m.Match(plain(t, 10, 10), opts)
	require.NoError(t, err)
	res, err := m.Match(solidPNG(t, 10, 10, white, image.Rect(0, 0, 2, 2), black), opts)
	require.NoError(t, err)

	data, err := os.ReadFile(res.DiffPath)
	require.NoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestMatchFailureThreshold(t *testing.T) {
	changed := func(t *testing.T) []byte {
		return solidPNG(t, 20, 20, white, image.Rect(0, 0, 10, 2), black)
	}
	cases := []struct {
		name string
		opts Options
		pass bool
	}{
		{"pixel under", Options{FailureThreshold: 20}, true},
		{"pixel over", Options{FailureThreshold: 19}, false},
		{"percent under", Options{FailureThreshold: 0.05, FailureThresholdType: ThresholdPercent}, true},
		{"percent over", Options{FailureThreshold: 0.04, FailureThresholdType: ThresholdPercent}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			m := &Matcher{}
			tc.opts.Identifier = "a"
			tc.opts.SnapshotsDir = dir

			_, err := m.Match(plain(t, 20, 20), tc.opts)
			require.NoError(t, err)
			res, err := m.Match(changed(t), tc.opts)
			require.NoError(t, err)
			assert.Equal(t, 20, res.DiffPixels)
			assert.Equal(t, tc.pass, res.Pass)
		})
	}
}

func TestMatchUpdateRewritesBaseline(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Identifier: "a", SnapshotsDir: dir}

	_, err := (&Matcher{}).Match(plain(t, 20, 20), opts)
	require.NoError(t, err)

	changed := solidPNG(t, 20, 20, white, image.Rect(0, 0, 5, 5), black)
	res, err := (&Matcher{Update: true}).Match(changed, opts)
	require.NoError(t, err)
	assert.Equal(t, Updated, res.Outcome)
	assert.True(t, res.Pass)

	stored, err := os.ReadFile(res.BaselinePath)
	require.NoError(t, err)
	assert.Equal(t, changed, stored)
}

func TestMatchPassRemovesStaleDiff(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir}

	_, err := m.Match(plain(t, 20, 20), opts)
	require.NoError(t, err)
	res, err := m.Match(solidPNG(t, 20, 20, white, image.Rect(0, 0, 5, 5), black), opts)
	require.NoError(t, err)
	require.FileExists(t, res.DiffPath)

	_, err = m.Match(plain(t, 20, 20), opts)
	require.NoError(t, err)
	assert.NoFileExists(t, res.DiffPath)
}

func TestMatchSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir}
	dark := func(w, h int) []byte {
		return solidPNG(t, w, h, black, image.Rectangle{}, black)
	}

	_, err := m.Match(dark(20, 20), opts)
	require.NoError(t, err)

	res, err := m.Match(dark(20, 25), opts)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Contains(t, res.Message, "same size as the snapshot (20x20), but was different (20x25)")

	// padding is transparent, which compares as white against the black rows
	opts.AllowSizeMismatch = true
	opts.FailureThreshold = 100
	res, err = m.Match(dark(20, 25), opts)
	require.NoError(t, err)
	assert.True(t, res.Pass)
	assert.Equal(t, 100, res.DiffPixels)
}

func TestMatchRequiresIdentifier(t *testing.T) {
	_, err := (&Matcher{}).Match(nil, Options{SnapshotsDir: t.TempDir()})
	assert.Error(t, err)
	_, err = (&Matcher{}).Match(nil, Options{Identifier: "a"})
	assert.Error(t, err)
}

func TestMatchCorruptBaseline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-snap.png"), []byte("not a png"), 0o644))
	_, err := (&Matcher{}).Match(plain(t, 2, 2), Options{Identifier: "a", SnapshotsDir: dir})
	assert.Error(t, err)
}

func TestMatchDiffImageMarksChangedPixels(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir}

	_, err := m.Match(plain(t, 4, 4), opts)
	require.NoError(t, err)
	res, err := m.Match(solidPNG(t, 4, 4, white, image.Rect(0, 0, 1, 1), black), opts)
	require.NoError(t, err)
	require.Equal(t, 1, res.DiffPixels)

	data, err := os.ReadFile(res.DiffPath)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	// middle panel is the diff
	r, g, b, _ := img.At(4, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0}, []uint32{r, g, b}, "changed pixel is red")
	r, g, b, _ = img.At(5, 0).RGBA()
	assert.Equal(t, r, g, "unchanged pixel is grey")
	assert.Equal(t, g, b)
}

// edgePNG draws a hard black/white edge down the middle, optionally with one
// grey pixel on it.
func edgePNG(t *testing.T, grey bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			if x < 3 {
				img.SetNRGBA(x, y, black)
			} else {
				img.SetNRGBA(x, y, white)
			}
		}
	}
	if grey {
		img.SetNRGBA(2, 3, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMatchAntialiasing(t *testing.T) {
	cases := []struct {
		name      string
		includeAA bool
		diff      int
		pass      bool
	}{
		{"ignored by default", false, 0, true},
		{"counted when included", true, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &Matcher{}
			opts := Options{Identifier: "edge", SnapshotsDir: t.TempDir(), IncludeAA: tc.includeAA}

			_, err := m.Match(edgePNG(t, false), opts)
			require.NoError(t, err)
			res, err := m.Match(edgePNG(t, true), opts)
			require.NoError(t, err)
			assert.Equal(t, tc.diff, res.DiffPixels)
			assert.Equal(t, tc.pass, res.Pass)
		})
	}
}

func TestMatchCustomDiffDir(t *testing.T) {
	dir := t.TempDir()
	diffDir := filepath.Join(t.TempDir(), "diffs")
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir, DiffDir: diffDir, StoreReceivedOnFailure: true}

	_, err := m.Match(plain(t, 10, 10), opts)
	require.NoError(t, err)
	res, err := m.Match(solidPNG(t, 10, 10, white, image.Rect(0, 0, 3, 3), black), opts)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, filepath.Join(diffDir, "a-diff.png"), res.DiffPath)
	assert.Equal(t, filepath.Join(diffDir, "a-received.png"), res.ReceivedPath)
	assert.FileExists(t, res.DiffPath)
	assert.FileExists(t, res.ReceivedPath)
	assert.NoDirExists(t, filepath.Join(dir, DiffDirName))

	_, err = m.Match(plain(t, 10, 10), opts)
	require.NoError(t, err)
	assert.NoFileExists(t, res.DiffPath)
	assert.NoFileExists(t, res.ReceivedPath)
}

func TestMatchUpdatePassedSnapshot(t *testing.T) {
	dir := t.TempDir()
	m := &Matcher{}
	opts := Options{Identifier: "a", SnapshotsDir: dir, FailureThreshold: 4}

	_, err := m.Match(plain(t, 10, 10), opts)
	require.NoError(t, err)
	near := solidPNG(t, 10, 10, white, image.Rect(0, 0, 2, 2), black)

	res, err := m.Match(near, opts)
	require.NoError(t, err)
	require.True(t, res.Pass)
	stored, err := os.ReadFile(res.BaselinePath)
	require.NoError(t, err)
	assert.Equal(t, plain(t, 10, 10), stored, "passing baseline kept by default")

	opts.UpdatePassedSnapshot = true
	res, err = m.Match(near, opts)
	require.NoError(t, err)
	assert.Equal(t, Passed, res.Outcome)
	stored, err = os.ReadFile(res.BaselinePath)
	require.NoError(t, err)
	assert.Equal(t, near, stored, "passing baseline rewritten")
}

func TestMatchUpdateRemovesStaleDiff(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Identifier: "a", SnapshotsDir: dir}

	_, err := (&Matcher{}).Match(plain(t, 10, 10), opts)
	require.NoError(t, err)
	changed := solidPNG(t, 10, 10, white, image.Rect(0, 0, 3, 3), black)
	res, err := (&Matcher{}).Match(changed, opts)
	require.NoError(t, err)
	require.FileExists(t, res.DiffPath)

	_, err = (&Matcher{Update: true}).Match(changed, opts)
	require.NoError(t, err)
	assert.NoFileExists(t, res.DiffPath)
}
