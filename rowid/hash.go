package rowid

import "hash/fnv"

// nullSentinel is the fixed value hash/hash_multi must return for a NULL
// input, per the hash function contract in §6. Any non-zero constant
// works; this one matches nothing a real FNV-1a digest produces for a
// short ASCII key, which is convenience rather than a requirement.
const nullSentinel int64 = -1

// HashGo is a Go-side reference implementation of the hash(text) -> bigint
// contract function, used only by the verification harness (package verify)
// to predict the __row_id a real PostgreSQL hash() would assign when
// simulating a refresh. The core never calls this; it only emits the
// textual hash(...) calls built by Single/Multi in rowid.go.
func HashGo(s *string) int64 {
	if s == nil {
		return nullSentinel
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(*s))
	return int64(h.Sum64())
}

// HashMultiGo is the reference hash_multi(text[]) -> bigint implementation.
// It must satisfy HashMultiGo([]string{x}) == HashGo(x); this is verified in
// rowid_test.go.
func HashMultiGo(parts []*string) int64 {
	if len(parts) == 1 {
		return HashGo(parts[0])
	}
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0x1f}) // unit separator, keeps ["a,b"] distinct from ["a","b"]
		}
		if p == nil {
			_, _ = h.Write([]byte{0})
			continue
		}
		_, _ = h.Write([]byte(*p))
	}
	return int64(h.Sum64())
}
