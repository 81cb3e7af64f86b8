package backend

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator hands out monotonic ULIDs, so ids sort by creation time.
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewIDGenerator seeds a monotonic ULID source from crypto/rand.
func NewIDGenerator() *IDGenerator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     time.Now,
	}
}

// New returns the next id.
func (g *IDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.entropy)
	if err != nil {
		// Only possible when the clock goes backwards past the monotonic window.
		id = ulid.MustNew(ulid.Timestamp(time.Now().UTC()), cryptoRand.Reader)
	}
	return id.String()
}
