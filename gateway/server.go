package gateway

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ListenAndServe serves the gateway on server.host:server.port until ctx is
// done or the process receives SIGINT or SIGTERM, then drains connections
// and closes every session.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(authsync.ConfigString("server.host"), strconv.Itoa(authsync.ConfigInt("server.port")))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapPrefix(err, "gateway: failed to listen", 0)
	}
	return g.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           h2c.NewHandler(g.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return g.ctx
		},
	}

	srv.RegisterOnShutdown(g.stopStreams)

	errc := make(chan error, 1)
	go func() {
		logging.Infof(g.ctx, "🚀  Listening for traffic on http://%s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info(g.ctx, "👋 Graceful shutdown triggered...")
	timeout := authsync.ConfigDuration("server.shutdownTimeout")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := srv.Shutdown(sctx)
	if cerr := g.Close(sctx); err == nil {
		err = cerr
	}
	if err != nil {
		logging.Errorw(g.ctx, "❌ Shutdown error", "error", err)
		return err
	}
	logging.Info(g.ctx, "👍 Connections drained")
	return nil
}
