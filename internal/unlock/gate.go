// Package unlock decides whether two members may exchange messages. The
// channel between a pair opens the moment both have run a compatibility
// analysis on the other; until then every send is refused.
package unlock

import (
	"context"
	"log/slog"
)

// RecordSource reports whether a directional compatibility record exists,
// the analysis feature writes them, this package only reads existence.
type RecordSource interface {
	Exists(ctx context.Context, viewerID, targetID int) (bool, error)
}

type Gate struct {
	src            RecordSource
	operatorBypass bool
	operatorID     int
	logger         *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithOperatorBypass lets the distinguished operator identity send past the
// mutual-consent check. Off unless configured; every bypass is logged.
func WithOperatorBypass(operatorID int) Option {
	return func(g *Gate) {
		g.operatorBypass = true
		g.operatorID = operatorID
	}
}

func NewGate(src RecordSource, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{src: src, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanSend reports whether viewer may message peer. True iff both directional
// records exist for the pair. Recomputed on every call: the records are
// written by an unrelated flow, so the state is pulled, never cached. There
// is no transition back to locked.
func (g *Gate) CanSend(ctx context.Context, viewerID, peerID int) (bool, error) {
	if g.operatorBypass && viewerID == g.operatorID {
		g.logger.Info("unlock gate bypassed by operator", "operator_id", viewerID, "peer_id", peerID)
		return true, nil
	}

	viewerSide, err := g.src.Exists(ctx, viewerID, peerID)
	if err != nil {
		return false, err
	}
	if !viewerSide {
		return false, nil
	}
	peerSide, err := g.src.Exists(ctx, peerID, viewerID)
	if err != nil {
		return false, err
	}
	return peerSide, nil
}
