package services

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/duelpoint/backend/internal/models"
)

// RandomnessSource draws a single uniform, unpredictable bit.
type RandomnessSource interface {
	NextBit() (int, error)
}

// CryptoRandSource draws bits from crypto/rand.
type CryptoRandSource struct{}

func (CryptoRandSource) NextBit() (int, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random bit: %w", err)
	}
	return int(b[0] & 1), nil
}

// OutcomeResolver produces the single binary result for a duel. The outcome
// is committed at the waiting→countdown transition and stored with the duel;
// resolution always reads the stored bit, never flips again. That way two
// independent completion triggers can never disagree.
type OutcomeResolver struct {
	src RandomnessSource
}

func NewOutcomeResolver(src RandomnessSource) *OutcomeResolver {
	if src == nil {
		src = CryptoRandSource{}
	}
	return &OutcomeResolver{src: src}
}

func (r *OutcomeResolver) CommitOutcome() (models.Outcome, error) {
	bit, err := r.src.NextBit()
	if err != nil {
		return models.Outcome{}, err
	}
	return models.Outcome{Bit: bit, CommittedAt: time.Now()}, nil
}
