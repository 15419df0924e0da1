// Package idgen generates the string identifiers kseo stores: API key ids
// and secrets, audit entry ids and batch job ids. Integer ids of results and
// events come from SQLite and are not generated here.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// Generator returns a new identifier on each call.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Random returns n characters drawn uniformly from [0-9a-z] with
// crypto/rand. Suitable for secrets.
func Random(n int) Generator {
	limit := big.NewInt(int64(len(base36)))
	return func() string {
		b := make([]byte, n)
		for i := range b {
			v, err := rand.Int(rand.Reader, limit)
			if err != nil {
				panic("idgen: crypto/rand: " + err.Error())
			}
			b[i] = base36[v.Int64()]
		}
		return string(b)
	}
}

// UUIDv7 returns time-ordered RFC 9562 UUIDs, so ids sort by creation.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Prefixed tags the ids of gen with prefix.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Identifier kinds.
var (
	BatchJob = Prefixed("batch_", UUIDv7())
	Audit    = Prefixed("audit_", UUIDv7())
	APIKeyID = Prefixed("key_", UUIDv7())
)
