// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lesson

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/lesson-engine/pkg/types"
)

// NormalizeTopic lowercases topic and collapses whitespace so that
// "Binary  Search Trees " and "binary search trees" share a fingerprint.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// Fingerprint digests (topic, sequence, style). Each field is length
// prefixed so no two distinct triples encode to the same bytes.
func Fingerprint(topic string, sequence int, style types.Style) string {
	h := sha256.New()
	for _, part := range []string{NormalizeTopic(topic), strconv.Itoa(sequence), string(style)} {
		fmt.Fprintf(h, "%d:%s;", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintOf is Fingerprint for a request.
func FingerprintOf(req types.GenerationRequest) string {
	return Fingerprint(req.Topic, req.Sequence, req.Style)
}

// Rank returns a copy of records in serving order: verification status
// descending, then net votes descending, then newest first.
func Rank(records []types.ContentRecord) []types.ContentRecord {
	out := make([]types.ContentRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.Verification.Rank(), b.Verification.Rank(); ra != rb {
			return ra > rb
		}
		if na, nb := a.NetVotes(), b.NetVotes(); na != nb {
			return na > nb
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

// Best returns the top-ranked servable record. Rejected records are never
// served; ok is false when nothing is servable.
func Best(records []types.ContentRecord) (types.ContentRecord, bool) {
	for _, r := range Rank(records) {
		if servable(r) {
			return r, true
		}
	}
	return types.ContentRecord{}, false
}

func servable(r types.ContentRecord) bool {
	return r.Verification.Rank() > types.VerificationRejected.Rank()
}
