package videoproc

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/sentryvision/internal/framebuf"
	"github.com/mikeyg42/sentryvision/internal/tempstore"
)

// Assembler encodes ordered frame sequences into evidence videos.
type Assembler struct {
	temp     *tempstore.Manager
	encoders []EncoderProfile
	logger   *zap.Logger
}

// NewAssembler uses the default encoder chain unless encoders is non-nil.
func NewAssembler(temp *tempstore.Manager, encoders []EncoderProfile) *Assembler {
	if encoders == nil {
		encoders = DefaultEncoders
	}
	return &Assembler{
		temp:     temp,
		encoders: encoders,
		logger:   zap.L().Named("video-assembler"),
	}
}

// Assemble encodes frames into a single video at targetFPS. Geometry is
// derived from the first frame (forced even); later frames are resized to
// match. Frames that fail to decode individually are skipped and counted.
func (a *Assembler) Assemble(frames []framebuf.Frame, targetFPS float64) (*EvidenceFile, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyInput
	}
	if targetFPS <= 0 {
		targetFPS = 25
	}

	// Reclaim space before the costly part, per the disk discipline.
	if err := a.temp.MonitorAndReclaim(); err != nil {
		return nil, err
	}

	first, err := gocv.IMDecode(frames[0].Payload, gocv.IMReadColor)
	if err != nil || first.Empty() {
		if err == nil {
			first.Close()
		}
		return nil, ErrDecodeFailure
	}
	defer first.Close()

	width := evenDim(first.Cols())
	height := evenDim(first.Rows())

	writer, path, profile, err := a.openWriter("evidence_", targetFPS, width, height)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	processed := 0
	failed := 0
	for i := range frames {
		mat, err := gocv.IMDecode(frames[i].Payload, gocv.IMReadColor)
		if err != nil || mat.Empty() {
			if err == nil {
				mat.Close()
			}
			failed++
			continue
		}

		if mat.Cols() != width || mat.Rows() != height {
			resized := gocv.NewMat()
			gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
			mat.Close()
			mat = resized
		}

		stampFrame(&mat, frames[i])

		if err := writer.Write(mat); err != nil {
			failed++
		} else {
			processed++
		}
		mat.Close()
	}
	// Flush before the integrity check.
	writer.Close()

	if processed == 0 {
		a.temp.Release(path)
		return nil, fmt.Errorf("%w: all %d frames failed to encode", ErrEmptyOutput, len(frames))
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		a.temp.Release(path)
		return nil, ErrEmptyOutput
	}

	ev := &EvidenceFile{
		Path:            path,
		SizeBytes:       info.Size(),
		FrameCount:      processed,
		FailedFrames:    failed,
		FPS:             targetFPS,
		DurationSeconds: float64(processed) / targetFPS,
		CodecUsed:       profile.Name,
		Width:           width,
		Height:          height,
	}
	a.logger.Info("evidence video assembled",
		zap.String("path", path),
		zap.String("codec", profile.Name),
		zap.Int("frames_processed", processed),
		zap.Int("failed_frames", failed),
		zap.Int64("size_bytes", ev.SizeBytes),
		zap.String("resolution", fmt.Sprintf("%dx%d", width, height)))
	return ev, nil
}

// openWriter walks the encoder chain until one opens for writing. Each
// candidate gets its own tracked temp file (the container extension
// depends on the codec); losers are released immediately.
func (a *Assembler) openWriter(prefix string, fps float64, width, height int) (*gocv.VideoWriter, string, EncoderProfile, error) {
	for _, profile := range a.encoders {
		path, err := a.temp.CreateTracked(prefix, profile.Ext)
		if err != nil {
			return nil, "", EncoderProfile{}, err
		}

		writer, err := gocv.VideoWriterFile(path, profile.FourCC, fps, width, height, true)
		if err != nil || !writer.IsOpened() {
			if writer != nil {
				writer.Close()
			}
			a.temp.Release(path)
			a.logger.Debug("encoder unavailable, trying next",
				zap.String("codec", profile.Name), zap.Error(err))
			continue
		}
		return writer, path, profile, nil
	}
	return nil, "", EncoderProfile{}, ErrEncoderUnavailable
}

// stampFrame burns a visible capture timestamp into the frame. A dark
// shadow behind white text keeps it readable on any background.
func stampFrame(mat *gocv.Mat, f framebuf.Frame) {
	label := f.CapturedAt.Format("2006-01-02 15:04:05.000")
	if f.Source != "" {
		label += "  " + f.Source
	}
	org := image.Pt(10, mat.Rows()-14)
	shadow := image.Pt(org.X+1, org.Y+1)
	gocv.PutText(mat, label, shadow, gocv.FontHersheySimplex, 0.5, color.RGBA{A: 255}, 2)
	gocv.PutText(mat, label, org, gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
}
