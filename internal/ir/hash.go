package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows migrating
// the algorithm later.
const (
	DomainWriteRequest = "plenum/write_request/v1"
	DomainInstance     = "plenum/instance/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteRequestHash fingerprints the ordered event list of a write request.
// It is recorded with every committed position.
func WriteRequestHash(events []WriteEvent) (string, error) {
	arr := make(IRArray, 0, len(events))
	for _, ev := range events {
		arr = append(arr, ev.toIR())
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("WriteRequestHash: %w", err)
	}
	return hashWithDomain(DomainWriteRequest, canonical), nil
}

// InstanceHash fingerprints one instance's data.
func InstanceHash(fqid FQID, data IRObject) (string, error) {
	canonical, err := MarshalCanonical(IRObject{"fqid": IRString(fqid), "data": data})
	if err != nil {
		return "", fmt.Errorf("InstanceHash: %w", err)
	}
	return hashWithDomain(DomainInstance, canonical), nil
}
