package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-server/internal/dispatch"
	"github.com/DoyleJ11/match-server/internal/session"
)

// Tracker is told when sessions come and go.
type Tracker interface {
	SessionOpened()
	SessionClosed()
}

type Options struct {
	OriginPatterns []string
	ReadLimit      int64
	WriteTimeout   time.Duration
	// IdleTimeout closes a connection that sends nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration
}

// conn adapts a websocket connection to session.Transport.
type conn struct {
	c *websocket.Conn
}

func (t conn) Write(ctx context.Context, data []byte) error {
	return t.c.Write(ctx, websocket.MessageText, data)
}

func (t conn) Close(reason string) error {
	return t.c.Close(websocket.StatusNormalClosure, reason)
}

func Handler(d *dispatch.Dispatcher, tracker Tracker, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		defer c.CloseNow()
		if opts.ReadLimit > 0 {
			c.SetReadLimit(opts.ReadLimit)
		}

		sess := session.New(conn{c: c}, logger.With(zap.String("remote", r.RemoteAddr)), opts.WriteTimeout)
		tracker.SessionOpened()
		sess.Logger().Info("session connected")
		defer func() {
			d.Disconnect(sess)
			tracker.SessionClosed()
		}()

		ctx := r.Context()
		for {
			readCtx, cancel := ctx, context.CancelFunc(func() {})
			if opts.IdleTimeout > 0 {
				readCtx, cancel = context.WithTimeout(ctx, opts.IdleTimeout)
			}
			_, data, err := c.Read(readCtx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					sess.Logger().Info("closing idle session")
					_ = sess.Close("idle timeout")
					return
				}
				sess.Logger().Debug("read failed", zap.Error(err))
				return
			}

			if err := d.Handle(ctx, sess, data); err != nil {
				sess.Logger().Warn("response write failed, closing", zap.Error(err))
				return
			}
		}
	}
}
