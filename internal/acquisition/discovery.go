package acquisition

import (
	"context"
	"net"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
)

const discoveryMessage = "EmotiBit_Discovery"

// discover broadcasts a discovery request to target and returns the host of the first
// device to answer.
func discover(ctx context.Context, target *net.UDPAddr, timeout time.Duration) (string, error) {
	errFactory := errors.New()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return "", errFactory.Wrap(ErrDiscovery, err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(discoveryMessage), target); err != nil {
		return "", errFactory.Wrap(ErrDiscovery, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", errFactory.Wrap(ErrDiscovery, err)
		}
		if !time.Now().Before(deadline) {
			return "", errFactory.WithData(ErrDiscovery, target.String())
		}

		_ = conn.SetReadDeadline(minTime(deadline, time.Now().Add(readDeadline)))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return "", errFactory.Wrap(ErrDiscovery, err)
		}
		if n == 0 || addr == nil {
			continue
		}
		return addr.IP.String(), nil
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
