// Package snapshot compares PNG screenshots against baselines stored on disk.
//
// A missing baseline is written and the comparison passes. An existing one is
// compared pixel by pixel; on failure a composite image (baseline, diff,
// received) is written next to the baselines so the change can be reviewed.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/orisano/pixelmatch"
)

// ThresholdType selects how FailureThreshold is interpreted.
type ThresholdType string

const (
	ThresholdPixel   ThresholdType = "pixel"
	ThresholdPercent ThresholdType = "percent"
)

// Direction is the layout of the composite diff image.
type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

// Outcome of a single match.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Added   Outcome = "added"
	Updated Outcome = "updated"
)

// DefaultThreshold is the per-pixel colour distance, 0..1, below which two
// pixels are considered equal.
const DefaultThreshold = 0.01

// DiffDirName is the default sub-directory of SnapshotsDir for diff output.
const DiffDirName = "__diff_output__"

// Options control one comparison. Identifier and SnapshotsDir are required.
type Options struct {
	Identifier   string
	SnapshotsDir string
	// DiffDir defaults to SnapshotsDir/__diff_output__.
	DiffDir string

	// Threshold is the per-pixel colour tolerance. Zero selects DefaultThreshold.
	Threshold float64
	IncludeAA bool

	FailureThreshold     float64
	FailureThresholdType ThresholdType

	AllowSizeMismatch      bool
	DiffDirection          Direction
	StoreReceivedOnFailure bool
	UpdatePassedSnapshot   bool
}

// Result describes a finished comparison.
type Result struct {
	Outcome      Outcome `json:"outcome"`
	Pass         bool    `json:"pass"`
	Message      string  `json:"message,omitempty"`
	BaselinePath string  `json:"baseline_path"`
	DiffPath     string  `json:"diff_path,omitempty"`
	ReceivedPath string  `json:"received_path,omitempty"`
	DiffPixels   int     `json:"diff_pixels"`
	TotalPixels  int     `json:"total_pixels"`
	DiffRatio    float64 `json:"diff_ratio"`
}

// Matcher holds the run-wide snapshot flags.
type Matcher struct {
	// Update rewrites failing baselines instead of failing.
	Update bool
	// CI refuses to write missing baselines.
	CI bool
}

// Match compares received, a PNG, with the baseline named by opts.Identifier.
// The returned error is reserved for I/O and decode problems; a visual mismatch
// is reported through Result.Pass.
func (m *Matcher) Match(received []byte, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Identifier) == "" {
		return Result{}, errors.New("snapshot identifier is required")
	}
	if opts.SnapshotsDir == "" {
		return Result{}, errors.New("snapshots dir is required")
	}
	if opts.DiffDir == "" {
		opts.DiffDir = filepath.Join(opts.SnapshotsDir, DiffDirName)
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.FailureThresholdType == "" {
		opts.FailureThresholdType = ThresholdPixel
	}

	res := Result{
		BaselinePath: filepath.Join(opts.SnapshotsDir, opts.Identifier+"-snap.png"),
	}
	diffPath := filepath.Join(opts.DiffDir, opts.Identifier+"-diff.png")
	receivedPath := filepath.Join(opts.DiffDir, opts.Identifier+"-received.png")

	baseline, err := os.ReadFile(res.BaselinePath)
	if errors.Is(err, os.ErrNotExist) {
		if m.CI && !m.Update {
			res.Outcome = Failed
			res.Message = "New snapshot was not written. The update flag must be explicitly passed to write a new snapshot.\n\n" +
				"This is likely because this test is run in a continuous integration (CI) environment in which snapshots are not written by default."
			return res, nil
		}
		if err := writeFile(res.BaselinePath, received); err != nil {
			return Result{}, err
		}
		res.Outcome, res.Pass = Added, true
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("read baseline: %w", err)
	}

	if bytes.Equal(baseline, received) {
		return m.passed(res, received, diffPath, receivedPath, opts)
	}

	baseImg, err := decodePNG(baseline)
	if err != nil {
		return Result{}, fmt.Errorf("decode baseline %s: %w", res.BaselinePath, err)
	}
	recvImg, err := decodePNG(received)
	if err != nil {
		return Result{}, fmt.Errorf("decode received image: %w", err)
	}

	sizeMismatch := baseImg.Bounds().Size() != recvImg.Bounds().Size()
	if sizeMismatch {
		baseImg, recvImg = padToUnion(baseImg, recvImg)
	}
	var diffImg image.Image
	matchOpts := []pixelmatch.MatchOption{
		pixelmatch.Threshold(opts.Threshold),
		pixelmatch.Alpha(0.1),
		pixelmatch.WriteTo(&diffImg),
	}
	if opts.IncludeAA {
		matchOpts = append(matchOpts, pixelmatch.IncludeAntiAlias)
	}
	res.DiffPixels, err = pixelmatch.MatchPixel(baseImg, recvImg, matchOpts...)
	if err != nil {
		return Result{}, fmt.Errorf("compare with baseline: %w", err)
	}
	res.TotalPixels = baseImg.Bounds().Dx() * baseImg.Bounds().Dy()
	if res.TotalPixels > 0 {
		res.DiffRatio = float64(res.DiffPixels) / float64(res.TotalPixels)
	}

	var pass bool
	switch opts.FailureThresholdType {
	case ThresholdPercent:
		pass = res.DiffRatio <= opts.FailureThreshold
	case ThresholdPixel:
		pass = float64(res.DiffPixels) <= opts.FailureThreshold
	default:
		return Result{}, fmt.Errorf("unknown failure threshold type %q", opts.FailureThresholdType)
	}
	if sizeMismatch && !opts.AllowSizeMismatch {
		pass = false
	}

	if pass {
		return m.passed(res, received, diffPath, receivedPath, opts)
	}

	if m.Update {
		if err := writeFile(res.BaselinePath, received); err != nil {
			return Result{}, err
		}
		if err := removeIfExists(diffPath); err != nil {
			return Result{}, err
		}
		res.Outcome, res.Pass = Updated, true
		return res, nil
	}

	composite := compose(opts.DiffDirection, baseImg, diffImg, recvImg)
	var buf bytes.Buffer
	if err := png.Encode(&buf, composite); err != nil {
		return Result{}, fmt.Errorf("encode diff: %w", err)
	}
	if err := writeFile(diffPath, buf.Bytes()); err != nil {
		return Result{}, err
	}
	res.DiffPath = diffPath
	if opts.StoreReceivedOnFailure {
		if err := writeFile(receivedPath, received); err != nil {
			return Result{}, err
		}
		res.ReceivedPath = receivedPath
	}

	res.Outcome = Failed
	if sizeMismatch && !opts.AllowSizeMismatch {
		bs, rs := boundsOf(baseline), boundsOf(received)
		res.Message = fmt.Sprintf("Expected image to be the same size as the snapshot (%dx%d), but was different (%dx%d).\nSee diff for details: %s",
			bs.X, bs.Y, rs.X, rs.Y, diffPath)
	} else {
		res.Message = fmt.Sprintf("Expected image to match or be a close match to snapshot but was %g%% different from snapshot (%d differing pixels).\nSee diff for details: %s",
			res.DiffRatio*100, res.DiffPixels, diffPath)
	}
	return res, nil
}

func (m *Matcher) passed(res Result, received []byte, diffPath, receivedPath string, opts Options) (Result, error) {
	res.Outcome, res.Pass = Passed, true
	if opts.UpdatePassedSnapshot {
		if err := writeFile(res.BaselinePath, received); err != nil {
			return Result{}, err
		}
	}
	if err := removeIfExists(diffPath); err != nil {
		return Result{}, err
	}
	if err := removeIfExists(receivedPath); err != nil {
		return Result{}, err
	}
	return res, nil
}

func decodePNG(data []byte) (*image.NRGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n, nil
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// boundsOf returns the PNG dimensions without a full decode. Only called on
// data that already decoded successfully.
func boundsOf(data []byte) image.Point {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Point{}
	}
	return image.Point{X: cfg.Width, Y: cfg.Height}
}

// padToUnion places both images at the origin of a canvas large enough for
// either; uncovered pixels stay transparent.
func padToUnion(a, b *image.NRGBA) (*image.NRGBA, *image.NRGBA) {
	w := max(a.Bounds().Dx(), b.Bounds().Dx())
	h := max(a.Bounds().Dy(), b.Bounds().Dy())
	pad := func(src *image.NRGBA) *image.NRGBA {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, src.Bounds(), src, image.Point{}, draw.Src)
		return dst
	}
	return pad(a), pad(b)
}

func compose(dir Direction, imgs ...image.Image) *image.NRGBA {
	w, h := imgs[0].Bounds().Dx(), imgs[0].Bounds().Dy()
	var out *image.NRGBA
	if dir == Vertical {
		out = image.NewNRGBA(image.Rect(0, 0, w, h*len(imgs)))
	} else {
		out = image.NewNRGBA(image.Rect(0, 0, w*len(imgs), h))
	}
	for i, img := range imgs {
		var at image.Point
		if dir == Vertical {
			at = image.Pt(0, i*h)
		} else {
			at = image.Pt(i*w, 0)
		}
		draw.Draw(out, image.Rectangle{Min: at, Max: at.Add(image.Pt(w, h))}, img, img.Bounds().Min, draw.Src)
	}
	return out
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
