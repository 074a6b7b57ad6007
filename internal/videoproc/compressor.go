package videoproc

import (
	"fmt"
	"image"
	"math"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/sentryvision/internal/tempstore"
)

// CompressionPlan is the size-ratio-tiered strategy for one compression
// run. Stride implements the frame-rate reduction: only every Stride-th
// source frame is written.
type CompressionPlan struct {
	Tier   int
	Width  int
	Height int
	FPS    float64
	Stride int
}

// PlanCompression computes the tiered strategy. The second return is false
// when the file is already under the limit and no work is needed.
//
// Tiers by ratio = maxBytes/sizeBytes:
//   - ratio > 0.7: keep resolution, cut frame rate ~20% (floor 15).
//   - 0.4 < ratio <= 0.7: resolution x0.9, deeper frame-rate cut (floor 12).
//   - ratio <= 0.4: qualityFactor applied to both axes and fps (floor 10).
func PlanCompression(sizeBytes, maxBytes int64, srcW, srcH int, srcFPS, qualityFactor float64) (CompressionPlan, bool) {
	if maxBytes <= 0 || sizeBytes <= maxBytes {
		return CompressionPlan{}, false
	}
	if srcFPS <= 0 {
		srcFPS = 25
	}
	if qualityFactor <= 0 || qualityFactor >= 1 {
		qualityFactor = 0.5
	}

	ratio := float64(maxBytes) / float64(sizeBytes)

	var plan CompressionPlan
	switch {
	case ratio > 0.7:
		plan = CompressionPlan{
			Tier:   1,
			Width:  srcW,
			Height: srcH,
			FPS:    math.Max(15, srcFPS*0.8),
		}
	case ratio > 0.4:
		plan = CompressionPlan{
			Tier:   2,
			Width:  int(float64(srcW) * 0.9),
			Height: int(float64(srcH) * 0.9),
			FPS:    math.Max(12, srcFPS*0.6),
		}
	default:
		plan = CompressionPlan{
			Tier:   3,
			Width:  int(float64(srcW) * qualityFactor),
			Height: int(float64(srcH) * qualityFactor),
			FPS:    math.Max(10, srcFPS*qualityFactor),
		}
	}

	if plan.FPS > srcFPS {
		plan.FPS = srcFPS
	}
	plan.Width = evenDim(plan.Width)
	plan.Height = evenDim(plan.Height)

	// Decimation stride: write every Nth frame, never fewer than every
	// frame. The output fps is recomputed from the stride so playback
	// duration matches the source.
	plan.Stride = int(math.Round(srcFPS / plan.FPS))
	if plan.Stride < 1 {
		plan.Stride = 1
	}
	plan.FPS = srcFPS / float64(plan.Stride)

	return plan, true
}

// Compressor re-encodes evidence videos down to a transport size limit.
type Compressor struct {
	temp     *tempstore.Manager
	encoders []EncoderProfile
	logger   *zap.Logger
}

func NewCompressor(temp *tempstore.Manager, encoders []EncoderProfile) *Compressor {
	if encoders == nil {
		encoders = DefaultEncoders
	}
	return &Compressor{
		temp:     temp,
		encoders: encoders,
		logger:   zap.L().Named("video-compressor"),
	}
}

// Compress produces a smaller derivative of ev, or returns ev unchanged
// (Compressed=false) when it already fits. The original file is never
// removed here; callers release it once they are done with both. On any
// failure callers should fall back to the uncompressed original.
func (c *Compressor) Compress(ev *EvidenceFile, maxSizeBytes int64, qualityFactor float64) (*EvidenceFile, error) {
	plan, needed := PlanCompression(ev.SizeBytes, maxSizeBytes, ev.Width, ev.Height, ev.FPS, qualityFactor)
	if !needed {
		return ev, nil
	}

	if err := c.temp.MonitorAndReclaim(); err != nil {
		return nil, err
	}

	src, err := gocv.VideoCaptureFile(ev.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotOpenSource, err)
	}
	defer src.Close()
	if !src.IsOpened() {
		return nil, ErrCannotOpenSource
	}

	writer, outPath, profile, err := c.openWriter(plan)
	if err != nil {
		if err == ErrEncoderUnavailable {
			return nil, fmt.Errorf("%w: %v", ErrCannotCreateWriter, err)
		}
		return nil, err
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	read := 0
	written := 0
	for src.Read(&frame) {
		if frame.Empty() {
			continue
		}
		read++
		// Decimation: keep every Stride-th frame, starting with the first.
		if (read-1)%plan.Stride != 0 {
			continue
		}

		out := frame
		if frame.Cols() != plan.Width || frame.Rows() != plan.Height {
			gocv.Resize(frame, &resized, image.Pt(plan.Width, plan.Height), 0, 0, gocv.InterpolationArea)
			out = resized
		}
		if err := writer.Write(out); err == nil {
			written++
		}
	}
	writer.Close()

	if written == 0 {
		c.temp.Release(outPath)
		return nil, ErrEmptyOutput
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		c.temp.Release(outPath)
		return nil, ErrEmptyOutput
	}

	out := &EvidenceFile{
		Path:            outPath,
		SizeBytes:       info.Size(),
		FrameCount:      written,
		FPS:             plan.FPS,
		DurationSeconds: float64(written) / plan.FPS,
		CodecUsed:       profile.Name,
		Width:           plan.Width,
		Height:          plan.Height,
		Compressed:      true,
	}
	c.logger.Info("evidence video compressed",
		zap.Int("tier", plan.Tier),
		zap.Int64("original_bytes", ev.SizeBytes),
		zap.Int64("compressed_bytes", out.SizeBytes),
		zap.Int("stride", plan.Stride),
		zap.Float64("fps", plan.FPS),
		zap.String("resolution", fmt.Sprintf("%dx%d", plan.Width, plan.Height)))
	return out, nil
}

func (c *Compressor) openWriter(plan CompressionPlan) (*gocv.VideoWriter, string, EncoderProfile, error) {
	for _, profile := range c.encoders {
		path, err := c.temp.CreateTracked("compressed_", profile.Ext)
		if err != nil {
			return nil, "", EncoderProfile{}, err
		}
		writer, err := gocv.VideoWriterFile(path, profile.FourCC, plan.FPS, plan.Width, plan.Height, true)
		if err != nil || !writer.IsOpened() {
			if writer != nil {
				writer.Close()
			}
			c.temp.Release(path)
			continue
		}
		return writer, path, profile, nil
	}
	return nil, "", EncoderProfile{}, ErrEncoderUnavailable
}
