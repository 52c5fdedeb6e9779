package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

func node() *snowflake.Node {
	snowflakeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(fmt.Sprintf("snowflake node init: %v", err))
		}
		snowflakeNode = n
	})
	return snowflakeNode
}

// UUIDint64 returns a cluster-unique int64 identifier.
func UUIDint64() int64 {
	return node().Generate().Int64()
}

// UUIDString returns a cluster-unique string identifier.
func UUIDString() string {
	return node().Generate().String()
}

// UUID returns a random v4 uuid string, used for opaque tokens.
func UUID() string {
	return uuid.NewString()
}

// Sha256HashWithSalt hashes src with the given salt.
func Sha256HashWithSalt(src string, salt string) string {
	h := sha256.New()
	h.Write([]byte(src + salt))
	return hex.EncodeToString(h.Sum(nil))
}

// GetSecretSalt reads the shared secret salt from the environment,
// falling back to a static development value.
func GetSecretSalt() string {
	if v := os.Getenv("WAGATE_SECRET_SALT"); v != "" {
		return v
	}
	return "wagate-secret"
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
