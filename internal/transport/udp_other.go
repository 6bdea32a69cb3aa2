//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package transport

import (
	"context"
	"fmt"
)

func listenUDP(ctx context.Context, address string) (Listener, error) {
	return nil, fmt.Errorf("%w: udp listen needs a unix platform", ErrUnsupportedMode)
}
