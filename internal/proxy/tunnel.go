package proxy

import (
	"io"
	"net"
	"sync"
)

// tunnel copies bytes both ways until either side closes.
func (p *Proxy) tunnel(client, upstream net.Conn, host string) {
	defer p.release(client)
	defer p.release(upstream)

	var wg sync.WaitGroup
	wg.Add(2)

	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		// Unblock the other direction.
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = dst.Close()
		}
	}

	go pipe(upstream, client)
	go pipe(client, upstream)
	wg.Wait()

	p.logger.Debug().Str("host", host).Msg("tunnel closed")
}
