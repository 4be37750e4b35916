package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberSuffix   = 6
)

// NumberGenerator issues order numbers of the form ORD-<unix millis>-<6 base36 chars>.
// Suffixes are never repeated within one millisecond of one process; across
// processes the unique index on orders.order_number is the final guard.
type NumberGenerator struct {
	now func() time.Time

	mu     sync.Mutex
	millis int64
	issued map[string]struct{}
}

func NewNumberGenerator(now func() time.Time) *NumberGenerator {
	if now == nil {
		now = time.Now
	}
	return &NumberGenerator{
		now:    now,
		issued: make(map[string]struct{}),
	}
}

func (g *NumberGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	millis := g.now().UnixMilli()
	if millis != g.millis {
		g.millis = millis
		clear(g.issued)
	}

	for {
		suffix, err := randomSuffix()
		if err != nil {
			return "", fmt.Errorf("generate order number: %w", err)
		}
		if _, dup := g.issued[suffix]; dup {
			continue
		}
		g.issued[suffix] = struct{}{}
		return fmt.Sprintf("ORD-%d-%s", millis, suffix), nil
	}
}

func randomSuffix() (string, error) {
	base := big.NewInt(int64(len(orderNumberAlphabet)))
	buf := make([]byte, orderNumberSuffix)
	for i := range buf {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		buf[i] = orderNumberAlphabet[n.Int64()]
	}
	return string(buf), nil
}
