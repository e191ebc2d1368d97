// relaytap connects to a running relay over WebSocket and prints every event
// it receives to the console.
// Usage: go run ./cmd/relaytap --url ws://localhost:3000/socket
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/socket", "relay WebSocket URL")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected - press Ctrl+C to stop", "url", *url)

	go func() {
		<-ctx.Done()
		hangUp(conn, logger)
	}()

	var received int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("connection closed", "error", err)
			}
			break
		}
		received++
		fmt.Println(formatEvent(data, *verbose))
	}

	logger.Info("tap stopped", "received", received)
}

// wsConn is the part of *websocket.Conn hangUp needs.
type wsConn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// hangUp sends a normal close frame, then closes the connection.
func hangUp(conn wsConn, logger *slog.Logger) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		logger.Debug("close frame not sent", "error", err)
	}
	conn.Close()
}
