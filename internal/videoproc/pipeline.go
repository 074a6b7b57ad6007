package videoproc

import (
	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/framebuf"
	"github.com/mikeyg42/sentryvision/internal/tempstore"
)

// PipelineConfig bounds the finished artifact.
type PipelineConfig struct {
	TargetFPS      float64
	MaxUploadBytes int64
	QualityFactor  float64
}

// Pipeline chains assembly and conditional compression into one call:
// frames in, upload-ready evidence file out.
type Pipeline struct {
	assembler  *Assembler
	compressor *Compressor
	temp       *tempstore.Manager
	cfg        PipelineConfig
	logger     *zap.Logger
}

func NewPipeline(temp *tempstore.Manager, cfg PipelineConfig) *Pipeline {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 25
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 95 * 1024 * 1024
	}
	if cfg.QualityFactor <= 0 || cfg.QualityFactor > 1 {
		cfg.QualityFactor = 0.5
	}
	return &Pipeline{
		assembler:  NewAssembler(temp, nil),
		compressor: NewCompressor(temp, nil),
		temp:       temp,
		cfg:        cfg,
		logger:     zap.L().Named("video-pipeline"),
	}
}

// Produce assembles the frames and compresses the result if it exceeds
// the upload limit. On successful compression the oversized original is
// released; on compression failure the original is returned as-is so
// the caller can still attempt delivery.
func (p *Pipeline) Produce(frames []framebuf.Frame) (*EvidenceFile, error) {
	ev, err := p.assembler.Assemble(frames, p.cfg.TargetFPS)
	if err != nil {
		return nil, err
	}
	if ev.SizeBytes <= p.cfg.MaxUploadBytes {
		return ev, nil
	}

	compressed, err := p.compressor.Compress(ev, p.cfg.MaxUploadBytes, p.cfg.QualityFactor)
	if err != nil {
		p.logger.Warn("compression failed, delivering oversized original",
			zap.Int64("size_bytes", ev.SizeBytes),
			zap.Error(err))
		return ev, nil
	}
	p.temp.Release(ev.Path)
	return compressed, nil
}
