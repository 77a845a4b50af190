// Package oui resolves MAC address OUI prefixes to vendor names from an
// embedded IEEE assignment snippet. No corpus or ecosystem library covers
// this narrow lookup, so it stays on the standard library (embed plus a
// line scanner over the comma-separated table),
// per DESIGN.md's stdlib-justification ledger.
package oui

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/hex"
	"strings"
	"sync"
)

//go:embed oui_table.csv
var table []byte

var (
	once  sync.Once
	byOUI map[[3]byte]string
)

func load() {
	byOUI = make(map[[3]byte]string, 256)
	scanner := bufio.NewScanner(bytes.NewReader(table))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		prefixHex := strings.ReplaceAll(parts[0], ":", "")
		raw, err := hex.DecodeString(prefixHex)
		if err != nil || len(raw) != 3 {
			continue
		}
		var key [3]byte
		copy(key[:], raw)
		byOUI[key] = strings.TrimSpace(parts[1])
	}
}

// Vendor returns the vendor string for prefix, or "" if unknown.
func Vendor(prefix [3]byte) string {
	once.Do(load)
	return byOUI[prefix]
}

// PrefixHex formats prefix as a lowercase hex string, the form stored in
// Device.oui_prefix (§3).
func PrefixHex(prefix [3]byte) string {
	return hex.EncodeToString(prefix[:])
}
