package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/resonance-ai/relay/internal/model"
)

type generatorConfig struct {
	Threshold   float64
	AnomalyRate float64
	Spectrogram bool
}

// frame is the inference output schema.
type frame struct {
	MSE         float64 `json:"mse"`
	Severity    string  `json:"severity"`
	Alert       string  `json:"alert,omitempty"`
	Spectrogram string  `json:"spectrogram,omitempty"`
}

// generator produces plausible reconstruction errors: mostly below the
// threshold, with occasional spikes.
type generator struct {
	cfg   generatorConfig
	rng   *rand.Rand
	phase float64
	buf   []float32
}

func newGenerator(cfg generatorConfig) *generator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = model.DefaultThreshold
	}
	return &generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		buf: make([]float32, model.SpectrogramBins*model.SpectrogramFrames),
	}
}

// next returns the encoded frame and its fields.
func (g *generator) next() ([]byte, frame, error) {
	t := g.cfg.Threshold

	mse := math.Abs(t*0.4 + g.rng.NormFloat64()*t*0.15)
	if g.rng.Float64() < g.cfg.AnomalyRate {
		// Spread spikes over LOW..HIGH.
		mse = t * (1 + g.rng.Float64()*5)
	}

	sev := model.ClassifySeverity(mse, t)
	f := frame{
		MSE:      mse,
		Severity: sev.String(),
	}
	if sev.IsAnomaly() {
		f.Alert = fmt.Sprintf("Abnormal vibration detected (MSE %.4f, %.1fx threshold)", mse, mse/t)
	}

	if g.cfg.Spectrogram {
		enc, err := model.EncodeSpectrogram(g.spectrogram(mse / t))
		if err != nil {
			return nil, frame{}, err
		}
		f.Spectrogram = enc
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, frame{}, fmt.Errorf("marshal frame: %w", err)
	}
	return data, f, nil
}

// spectrogram fills a freq-major 1024x64 grid: a decaying harmonic pattern
// plus noise that grows with the anomaly ratio.
func (g *generator) spectrogram(ratio float64) []float32 {
	g.phase += 0.3
	noise := 0.05 + 0.05*ratio

	for fi := 0; fi < model.SpectrogramBins; fi++ {
		decay := math.Exp(-float64(fi) / 256)
		for ti := 0; ti < model.SpectrogramFrames; ti++ {
			v := math.Sin(2*math.Pi*5*float64(ti)/model.SpectrogramFrames+g.phase) * decay
			v += noise * g.rng.NormFloat64()
			g.buf[fi*model.SpectrogramFrames+ti] = float32(v)
		}
	}
	return g.buf
}
