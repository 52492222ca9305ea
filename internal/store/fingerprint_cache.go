package store

import (
	"encoding/json"

	"github.com/nowail/bookwatch/internal/model"
)

// encodeFingerprint/decodeFingerprint serialize a Fingerprint for the
// ristretto-backed cache. This is purely an in-process wire format with no
// canonicalization requirement (unlike the content hashes themselves), so
// plain encoding/json is used rather than the ojg canonicalizer the
// Fingerprinter relies on.
func encodeFingerprint(f model.Fingerprint) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFingerprint(b []byte) (model.Fingerprint, error) {
	var f model.Fingerprint
	err := json.Unmarshal(b, &f)
	return f, err
}
