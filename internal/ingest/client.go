package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/VenkatGGG/gpu-reserve/internal/reservation"
)

// Submit sends one request to the resident scheduler at addr.
func Submit(ctx context.Context, addr string, req reservation.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	payload = append(payload, '\n')

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to scheduler at %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	return nil
}

// Reachable reports whether something is already accepting submissions at addr.
func Reachable(ctx context.Context, addr string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
