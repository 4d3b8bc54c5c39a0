package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// IDGenerator produces candidate client identities. Collisions with the
// active table are handled by the hub, which simply asks again.
type IDGenerator func() string

// WordID returns a random, typable identity such as "calm-otter-ramen".
func WordID() string {
	return fmt.Sprintf("%s-%s-%s",
		adjectives[randomIndex(len(adjectives))],
		animals[randomIndex(len(animals))],
		dishes[randomIndex(len(dishes))],
	)
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(v.Int64())
}
