// mockpub stands in for the inference process: it binds a ZeroMQ PUB socket
// and publishes synthetic telemetry frames.
// Usage: go run ./cmd/mockpub --listen tcp://*:5557 --interval 500ms
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/resonance-ai/relay/internal/model"
)

func main() {
	listen := flag.String("listen", "tcp://*:5557", "ZeroMQ endpoint to bind")
	interval := flag.Duration("interval", time.Second, "time between frames")
	threshold := flag.Float64("threshold", model.DefaultThreshold, "anomaly threshold used for severity")
	anomalyRate := flag.Float64("anomaly-rate", 0.1, "fraction of frames that are anomalous")
	spectrogram := flag.Bool("spectrogram", true, "attach a spectrogram to every frame")
	count := flag.Int("count", 0, "stop after this many frames (0 = run until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := zmq4.NewPub(ctx)
	defer pub.Close()

	if err := pub.Listen(*listen); err != nil {
		logger.Error("failed to bind publisher", "endpoint", *listen, "error", err)
		os.Exit(1)
	}
	logger.Info("mock publisher started", "endpoint", *listen, "interval", *interval)

	gen := newGenerator(generatorConfig{
		Threshold:   *threshold,
		AnomalyRate: *anomalyRate,
		Spectrogram: *spectrogram,
	})

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping mock publisher", "sent", sent)
			return
		case <-ticker.C:
		}

		data, f, err := gen.next()
		if err != nil {
			logger.Error("failed to build frame", "error", err)
			continue
		}

		if err := pub.Send(zmq4.NewMsg(data)); err != nil {
			logger.Warn("send failed", "error", err)
			continue
		}
		sent++

		logger.Debug("published frame",
			"mse", f.MSE,
			"severity", f.Severity,
			"bytes", len(data),
		)

		if *count > 0 && sent >= *count {
			logger.Info("frame count reached", "sent", sent)
			return
		}
	}
}
