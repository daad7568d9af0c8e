package contentref

import (
	"net/url"
	"regexp"
	"strings"
)

// Network classifies the storage network a reference points into.
type Network string

const (
	NetworkIPFS         Network = "ipfs"
	NetworkArweave      Network = "arweave"
	NetworkConsensusLog Network = "consensusLog"
	NetworkDirect       Network = "direct"
	NetworkUnknown      Network = "unknown"
)

// Reference is a parsed content reference. Raw is never mutated, the rest is
// derived on each Resolve call.
type Reference struct {
	Raw        string
	Network    Network
	Identifier string
	// Path is the content path trailing the identifier, including the
	// leading slash, empty when the reference names the object itself.
	Path string
}

// known public Arweave gateway hostnames, matched exactly against URL hosts.
var arweaveHosts = map[string]struct{}{
	"arweave.net":     {},
	"www.arweave.net": {},
	"ar-io.net":       {},
	"arweave.dev":     {},
}

var (
	// CIDv0: Qm followed by exactly 44 base58 chars (no 0, O, I, l).
	cidV0Re = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	// CIDv1: b followed by exactly 58 base32 chars.
	cidV1Re = regexp.MustCompile(`^b[a-z2-7]{58}$`)
	// Arweave transaction ids are exactly 43 url-safe base64 chars.
	arweaveIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

	subdomainIpfsRe = regexp.MustCompile(`^https?://([^./]+)\.ipfs\.[^/]+(/.*)?$`)
)

// IsCIDv0 reports whether s is a well-formed CIDv0 identifier.
func IsCIDv0(s string) bool {
	return cidV0Re.MatchString(s)
}

// IsCIDv1 reports whether s is a well-formed base32 CIDv1 identifier.
func IsCIDv1(s string) bool {
	return cidV1Re.MatchString(s)
}

// IsValidCID reports whether s is a well-formed IPFS content identifier.
func IsValidCID(s string) bool {
	return IsCIDv0(s) || IsCIDv1(s)
}

// IsArweaveID reports whether s is a well-formed Arweave transaction id.
// IPFS-shaped strings are rejected even though CIDv0 is length-compatible
// with no overlap in practice.
func IsArweaveID(s string) bool {
	return arweaveIDRe.MatchString(s) && !IsValidCID(s)
}

// Resolve parses a raw metadata-location string into a normalized content
// identifier plus storage network classification. Rules are checked in
// order, first match wins, no fallback chaining across rules. Returns nil
// for empty input and for generic HTTP/S3/data URLs, which must not be
// retried against content gateways.
func Resolve(raw string) *Reference {
	if raw == "" {
		return nil
	}

	lower := strings.ToLower(raw)

	// rule 1: ar://<id>
	if strings.HasPrefix(lower, "ar://") {
		id, path := splitFirstSegment(raw[len("ar://"):])

		return &Reference{Raw: raw, Network: NetworkArweave, Identifier: id, Path: path}
	}

	// rule 2: known arweave gateway host with /<id> path
	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if _, ok := arweaveHosts[strings.ToLower(u.Host)]; ok {
			id, path := splitFirstSegment(strings.TrimPrefix(u.Path, "/"))
			if id != "" {
				return &Reference{Raw: raw, Network: NetworkArweave, Identifier: id, Path: path}
			}
		}
	}

	// rule 3: ipfs://<id>
	if strings.HasPrefix(lower, "ipfs://") {
		rest := raw[len("ipfs://"):]
		// tolerate the doubled ipfs://ipfs/<id> convention
		rest = strings.TrimPrefix(rest, "ipfs/")

		id, path := splitFirstSegment(rest)

		return &Reference{Raw: raw, Network: NetworkIPFS, Identifier: id, Path: path}
	}

	// rule 4: any URL containing an /ipfs/<id> path segment
	if idx := strings.Index(raw, "/ipfs/"); idx != -1 {
		id, path := splitFirstSegment(raw[idx+len("/ipfs/"):])
		if id != "" {
			return &Reference{Raw: raw, Network: NetworkIPFS, Identifier: id, Path: path}
		}
	}

	// rule 5: subdomain style https://<id>.ipfs.<host>
	if m := subdomainIpfsRe.FindStringSubmatch(raw); m != nil {
		return &Reference{Raw: raw, Network: NetworkIPFS, Identifier: m[1], Path: m[2]}
	}

	// rule 6: hcs://.../<topicId>
	if strings.HasPrefix(lower, "hcs://") {
		segments := strings.Split(strings.TrimSuffix(raw[len("hcs://"):], "/"), "/")
		topicID := segments[len(segments)-1]

		return &Reference{Raw: raw, Network: NetworkConsensusLog, Identifier: topicID}
	}

	// rule 7: bare CID
	if IsValidCID(raw) {
		return &Reference{Raw: raw, Network: NetworkIPFS, Identifier: raw}
	}

	// rule 8: unresolved, callers fetch http(s) URLs as-is and reject the
	// rest for pin/cache operations
	return nil
}

// GatewayURL combines a resolved reference with a gateway base URL using the
// storage network's addressing convention. IPFS bases containing an {id}
// placeholder are treated as subdomain style, otherwise path style.
func GatewayURL(ref *Reference, base string) string {
	base = strings.TrimSuffix(base, "/")

	switch ref.Network {
	case NetworkIPFS:
		if strings.Contains(base, "{id}") {
			return strings.Replace(base, "{id}", ref.Identifier, 1) + ref.Path
		}

		return base + "/ipfs/" + ref.Identifier + ref.Path
	case NetworkArweave:
		return base + "/" + ref.Identifier + ref.Path
	case NetworkConsensusLog:
		return base + "/" + ref.Identifier
	default:
		return ref.Raw
	}
}

func splitFirstSegment(s string) (id string, path string) {
	if idx := strings.Index(s, "/"); idx != -1 {
		return s[:idx], s[idx:]
	}

	return s, ""
}
