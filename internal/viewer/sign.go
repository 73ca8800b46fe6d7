package viewer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// audioURLTTL is how long a signed /audio link stays valid. Links are
// re-derived on every playlist fetch, never stored.
const audioURLTTL = 60 * time.Second

// urlSigner mints short-lived signed audio URLs. The key is random per
// process: links die with the peer, which is the point.
type urlSigner struct {
	key []byte
	now func() time.Time
}

func newURLSigner() *urlSigner {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &urlSigner{key: key, now: time.Now}
}

func (s *urlSigner) mac(trackID string, exp int64) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(trackID))
	m.Write([]byte{0})
	m.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(m.Sum(nil))
}

// Sign returns the query-ready expiry and signature for a track id.
func (s *urlSigner) Sign(trackID string) (exp int64, sig string) {
	exp = s.now().Add(audioURLTTL).Unix()
	return exp, s.mac(trackID, exp)
}

// Verify checks a signature and that it has not expired.
func (s *urlSigner) Verify(trackID string, exp int64, sig string) bool {
	if exp < s.now().Unix() {
		return false
	}
	want := s.mac(trackID, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}
