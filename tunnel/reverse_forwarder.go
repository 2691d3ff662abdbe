package tunnel

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"luka/util"
)

// handleConnection bridges one forwarded connection to the local service.
func (rt *ReverseTunnel) handleConnection(remoteConn net.Conn) {
	defer rt.wg.Done()
	defer remoteConn.Close()

	start := time.Now()
	target := rt.localTarget()

	d := net.Dialer{Timeout: rt.config.DialTimeout}
	localConn, err := d.DialContext(rt.ctx, "tcp", target)
	if err != nil {
		rt.logger.Warn("reverse tunnel: local dial %s failed: %v", target, err)
		rt.metrics.RecordError("reverse tunnel local dial: " + err.Error())
		return
	}
	defer localConn.Close()

	in, out := bridgeConns(rt.ctx, remoteConn, localConn)
	rt.logger.Verbose("reverse tunnel: %s closed after %v (in=%d out=%d)",
		remoteConn.RemoteAddr(), time.Since(start).Truncate(time.Millisecond), in, out)
}

// bridgeConns copies in both directions until both have finished or
// ctx is cancelled.  When one direction reaches EOF it half-closes its
// destination so the far side sees end of stream while the other
// direction keeps flowing.  It returns the byte count per direction.
func bridgeConns(ctx context.Context, a, b net.Conn) (aToB, bToA int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	pipe := func(dst, src net.Conn, n *int64) {
		defer wg.Done()
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		*n, _ = io.CopyBuffer(dst, src, *buf)
		util.CloseWrite(dst) //nolint:errcheck
	}
	go pipe(b, a, &aToB)
	go pipe(a, b, &bToA)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.Close()
		b.Close()
		<-done
	}
	a.Close()
	b.Close()
	return aToB, bToA
}
