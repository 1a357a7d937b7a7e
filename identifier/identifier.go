// Package identifier resolves tagged network/deployment inputs into their
// canonical forms: CAIP-2 chain identifiers and deployment content ids.
package identifier

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// caip2Pattern matches the canonical eip155:<decimal> chain id form.
var caip2Pattern = regexp.MustCompile(`^eip155:[0-9]+$`)

// aliases maps human-friendly network names to their canonical CAIP-2 id.
// Populated with the minimum required set (§6); callers may extend it via
// RegisterAlias for additional networks.
var aliases = map[string]string{
	"mainnet":         "eip155:1",
	"sepolia":         "eip155:11155111",
	"arbitrum-one":    "eip155:42161",
	"arbitrum-goerli": "eip155:421613",
}

// RegisterAlias adds or overrides a network alias. Not safe for concurrent
// use with resolution calls; intended for startup-time configuration.
func RegisterAlias(alias, caip2 string) {
	aliases[alias] = caip2
}

// CanonicalChainID resolves an alias or a CAIP-2 id to its canonical form.
// Any `eip155:<digits>` input round-trips to itself.
func CanonicalChainID(tag string) (string, error) {
	if caip2Pattern.MatchString(tag) {
		return tag, nil
	}
	if canon, ok := aliases[tag]; ok {
		return canon, nil
	}
	return "", fmt.Errorf("identifier: unrecognized network tag %q: expected eip155:<decimal> or a registered alias", tag)
}

// Tagged is the resolved pair of an optional canonical chain id and the
// untagged value that followed it.
type Tagged struct {
	ChainID string // canonical CAIP-2 id, empty if the input carried no tag
	Value   string // the URL or deployment id portion
}

// Resolve parses a string of the form "[<tag>:]<value>" where tag is a
// CAIP-2 id or alias and value is either an HTTP(S) URL or a base58 content
// id beginning with "Qm" of length >= 46. Untagged values are permitted
// (ChainID is returned empty); a value that looks tagged but isn't a
// recognized network fails loudly rather than being treated as untagged.
func Resolve(input string) (Tagged, error) {
	if input == "" {
		return Tagged{}, fmt.Errorf("identifier: empty input at offset 0")
	}

	if tag, value, ok := splitTag(input); ok {
		chainID, err := CanonicalChainID(tag)
		if err != nil {
			return Tagged{}, err
		}
		if err := validateValue(value, len(tag)+1); err != nil {
			return Tagged{}, err
		}
		return Tagged{ChainID: chainID, Value: value}, nil
	}

	if err := validateValue(input, 0); err != nil {
		return Tagged{}, err
	}
	return Tagged{Value: input}, nil
}

// splitTag separates a leading "<tag>:" from the rest, but only when the
// prefix actually resolves to a network — otherwise the colon is assumed to
// be part of a URL scheme (e.g. "https://...") and the whole string is the
// value.
func splitTag(input string) (tag, rest string, ok bool) {
	idx := strings.Index(input, ":")
	if idx < 0 {
		return "", "", false
	}
	candidate := input[:idx]
	if candidate == "http" || candidate == "https" {
		return "", "", false
	}
	if _, err := CanonicalChainID(candidate); err != nil {
		return "", "", false
	}
	return candidate, input[idx+1:], true
}

func validateValue(value string, offset int) error {
	if value == "" {
		return fmt.Errorf("identifier: missing value at offset %d: expected an HTTP(S) URL or a base58 deployment id", offset)
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if _, err := url.ParseRequestURI(value); err != nil {
			return fmt.Errorf("identifier: malformed URL at offset %d: %w", offset, err)
		}
		return nil
	}
	if strings.HasPrefix(value, "Qm") && len(value) >= 46 {
		if _, err := base58.Decode(value); err != nil {
			return fmt.Errorf("identifier: malformed base58 deployment id at offset %d: %w", offset, err)
		}
		return nil
	}
	return fmt.Errorf("identifier: value at offset %d matches neither an HTTP(S) URL nor a base58 deployment id (Qm..., length >= 46)", offset)
}

// deploymentIDByteLength is the fixed length of a deployment's raw digest,
// as embedded in both its hex and base58 (multihash-free) representations.
const deploymentIDByteLength = 32

// HexToBase58 converts the 32-byte hex form of a deployment id (optionally
// "0x"-prefixed) to its base58 "Qm..." form.
func HexToBase58(hexID string) (string, error) {
	trimmed := strings.TrimPrefix(hexID, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return "", fmt.Errorf("identifier: invalid hex deployment id %q: %w", hexID, err)
	}
	if len(raw) != deploymentIDByteLength {
		return "", fmt.Errorf("identifier: hex deployment id %q decodes to %d bytes, want %d", hexID, len(raw), deploymentIDByteLength)
	}
	// Prepend the standard sha2-256 multihash header (0x12, length 0x20) so
	// that the base58 form matches the conventional "Qm..." CID encoding.
	prefixed := append([]byte{0x12, 0x20}, raw...)
	return base58.Encode(prefixed), nil
}

// Base58ToHex converts a "Qm..." deployment id to its 32-byte hex form
// (without "0x" prefix), stripping the sha2-256 multihash header.
func Base58ToHex(b58ID string) (string, error) {
	raw, err := base58.Decode(b58ID)
	if err != nil {
		return "", fmt.Errorf("identifier: invalid base58 deployment id %q: %w", b58ID, err)
	}
	if len(raw) != deploymentIDByteLength+2 || raw[0] != 0x12 || raw[1] != 0x20 {
		return "", fmt.Errorf("identifier: base58 deployment id %q is not a sha2-256 multihash of a %d-byte digest", b58ID, deploymentIDByteLength)
	}
	return hex.EncodeToString(raw[2:]), nil
}
