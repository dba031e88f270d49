package handler

import (
	"context"
	"errors"
	"fmt"
	"net"

	"ecobin/internal/logger"
	"ecobin/internal/service"
	"ecobin/internal/service/capture"
)

// UDPCameraHandler listens for UDP packets from cameras, reassembles JPEG
// frames and routes complete frames to the loops bound to that camera. It
// returns when ctx is cancelled.
func UDPCameraHandler(ctx context.Context, manager *service.Manager, logger *logger.Logger) error {
	cfg := manager.Config()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.CamerasPort})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", cfg.CamerasPort, err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.Info("UDP camera handler started on port %d", cfg.CamerasPort)

	assembler := capture.NewFrameAssembler()
	buffer := make([]byte, 65535)

	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		ip := remoteAddr.IP.String()
		cameraName, exists := cfg.CameraNames[ip]
		if !exists {
			cameraName = "unknown_" + ip
		}

		if frame, ok := assembler.Add(cameraName, buffer[:n]); ok {
			manager.HandleCameraFrame(cameraName, frame)
		}
	}
}
