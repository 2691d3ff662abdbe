package tunnel

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// keepaliveLoop sends periodic keep-alive requests on client and closes
// the listener when one fails, which ends acceptLoop and the tunnel.
func (rt *ReverseTunnel) keepaliveLoop(client *ssh.Client) {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				rt.logger.Warn("SSH keepalive failed: %v", err)
				rt.metrics.RecordError(fmt.Sprintf("keepalive: %v", err))
				rt.mu.Lock()
				if rt.listener != nil {
					rt.listener.Close()
				}
				rt.mu.Unlock()
				return
			}
			rt.metrics.RecordHealthCheck()
			rt.logger.Debug("SSH keepalive OK")
		}
	}
}
