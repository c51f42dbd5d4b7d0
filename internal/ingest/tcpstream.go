package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"doorguard/internal/config"
)

// StartTCPStream accepts door gateway connections that send one JSON reading per line.
func StartTCPStream(ctx context.Context, cfg config.TCPStreamConfig, pub *Publisher, logger *slog.Logger) net.Listener {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String(), "insert", cfg.Insert)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg.Insert, pub, logger)
		}
	}()
	return ln
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, insert bool, pub *Publisher, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		HandleMessage(ctx, line, "tcp_stream", insert, pub, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
