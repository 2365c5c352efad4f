// Package dedup suppresses repeated client commands inside a short window.
// It is best effort: the lock manager is what keeps the pipeline correct.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
	"parkbeat-backend/internal/kvstore"
	"parkbeat-backend/internal/metrics"
)

const DefaultWindow = 10 * time.Second

type Service struct {
	store   kvstore.Store
	window  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(store kvstore.Store, window time.Duration, logger *zap.Logger, m *metrics.Metrics) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		store:   store,
		window:  window,
		logger:  logger.Named("dedup"),
		metrics: m,
	}
}

// Key builds the composite key for a command. Parts are length-prefixed before
// hashing so ("ab","c") and ("a","bc") never collide.
func Key(actorID, operation string, parts ...string) string {
	h := sha256.New()
	var prefix []byte
	for _, p := range append([]string{actorID, operation}, parts...) {
		prefix = binary.AppendUvarint(prefix[:0], uint64(len(p)))
		h.Write(prefix)
		h.Write([]byte(p))
	}
	return "dedup:" + operation + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// ShouldProceed returns false when the same actor sent the same command with the
// same arguments within the window. Store failures let the command through.
func (s *Service) ShouldProceed(ctx context.Context, actorID, operation string, parts ...string) bool {
	key := Key(actorID, operation, parts...)

	ok, err := s.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), s.window)
	if err != nil {
		s.logger.Warn("dedup store unavailable, allowing command",
			zap.String("operation", operation),
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
		s.metrics.Dedup(operation, true)
		return true
	}

	s.metrics.Dedup(operation, ok)
	if !ok {
		s.logger.Info("duplicate command suppressed",
			zap.String("operation", operation),
			zap.String("actor_id", actorID),
			zap.String("args", strings.Join(parts, ",")),
		)
	}
	return ok
}
