// Package endpoint implements C11: parsing and rendering EndpointSpec
// strings, and deriving the default review-state store path for an endpoint
// pair. Grounded on pkg/url's dispatch-by-classification parser and its
// character-scanning SCP-style parser, adapted from the core engine's
// four-protocol URL type down to limsync's two-variant EndpointSpec.
package endpoint

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eknkc/basex"
	"github.com/pkg/errors"
)

// Kind distinguishes the two EndpointSpec variants (§3).
type Kind int

const (
	Local Kind = iota
	Remote
)

// Spec is the tagged-variant EndpointSpec of §3: Local{root} or
// Remote{user, host, port, root}.
type Spec struct {
	Kind Kind
	Root string

	User string
	Host string
	Port uint16
}

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var base62 *basex.Encoding

func init() {
	enc, err := basex.NewEncoding(base62Alphabet)
	if err != nil {
		panic("unable to initialize base62 encoder")
	}
	base62 = enc
}

// Parse accepts every string form of §6: a bare path (optionally
// tilde-prefixed), "local:/path", "ssh://user@host[:port]/path", and the
// legacy SCP-style "user@host:path".
func Parse(raw string) (Spec, error) {
	if raw == "" {
		return Spec{}, errors.New("empty endpoint spec")
	}

	if strings.HasPrefix(raw, "local:") {
		return Spec{Kind: Local, Root: strings.TrimPrefix(raw, "local:")}, nil
	}

	if strings.HasPrefix(raw, "ssh://") {
		return parseSSHURL(strings.TrimPrefix(raw, "ssh://"))
	}

	if isSCPStyle(raw) {
		return parseSCPStyle(raw)
	}

	return Spec{Kind: Local, Root: raw}, nil
}

// isSCPStyle mirrors the SCP-style URL heuristic: a colon appears before any
// forward slash.
func isSCPStyle(raw string) bool {
	for _, r := range raw {
		if r == ':' {
			return true
		}
		if r == '/' {
			return false
		}
	}
	return false
}

// parseSCPStyle implements "user@host:path" (legacy; no port), scanning
// character by character rather than using a regular expression, same as the
// SSH URL scanner it's grounded on.
func parseSCPStyle(raw string) (Spec, error) {
	var user string
	for i, r := range raw {
		if r == '@' {
			if i == 0 {
				return Spec{}, errors.New("empty username specified")
			}
			user = raw[:i]
			raw = raw[i+1:]
			break
		}
		if r == ':' {
			break
		}
	}

	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return Spec{}, errors.New("no host present in endpoint spec")
	}
	host := raw[:idx]
	if host == "" {
		return Spec{}, errors.New("empty hostname")
	}
	path := raw[idx+1:]
	if path == "" {
		return Spec{}, errors.New("empty path")
	}

	return Spec{Kind: Remote, User: user, Host: host, Root: path}, nil
}

// parseSSHURL implements the remainder after stripping the "ssh://" prefix:
// "[user@]host[:port]/path".
func parseSSHURL(raw string) (Spec, error) {
	var user string
	if idx := strings.IndexByte(raw, '@'); idx >= 0 {
		user = raw[:idx]
		raw = raw[idx+1:]
	}

	slash := strings.IndexByte(raw, '/')
	if slash < 0 {
		return Spec{}, errors.New("ssh:// endpoint missing path")
	}
	hostPort := raw[:slash]
	path := raw[slash:]
	if path == "" {
		return Spec{}, errors.New("empty path")
	}

	host := hostPort
	var port uint16
	if idx := strings.IndexByte(hostPort, ':'); idx >= 0 {
		host = hostPort[:idx]
		portStr := hostPort[idx+1:]
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Spec{}, errors.Wrap(err, "invalid port value specified")
		}
		port = uint16(p)
	}
	if host == "" {
		return Spec{}, errors.New("empty hostname")
	}

	return Spec{Kind: Remote, User: user, Host: host, Port: port, Root: path}, nil
}

// Format renders spec back into its canonical string form, the inverse of
// Parse (modulo the legacy-vs-ssh:// choice, which Format always resolves to
// ssh:// for remote endpoints).
func (s Spec) Format() string {
	if s.Kind == Local {
		return s.Root
	}

	result := s.Host
	if s.User != "" {
		result = fmt.Sprintf("%s@%s", s.User, result)
	}
	if s.Port != 0 {
		result = fmt.Sprintf("%s:%d", result, s.Port)
	}
	return fmt.Sprintf("ssh://%s%s", result, s.Root)
}

// digest returns a short, filesystem-safe fingerprint of spec's rendered
// form. The exact formula is left free by §6; this uses SHA-256 truncated to
// its first 10 bytes, Base62-encoded — short enough for a readable filename
// while remaining a collision-resistant pure function of the endpoint.
func (s Spec) digest() string {
	sum := sha256.Sum256([]byte(s.Format()))
	encoded := base62.Encode(sum[:10])
	if len(encoded) > 16 {
		encoded = encoded[:16]
	}
	return encoded
}

// DefaultStateDBPath computes ~/.limsync/<left-digest>__<right-digest>.sqlite3,
// a pure function of the endpoint pair so repeated invocations against the
// same pair reuse the same store.
func DefaultStateDBPath(left, right Spec) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to determine home directory")
	}
	filename := fmt.Sprintf("%s__%s.sqlite3", left.digest(), right.digest())
	return filepath.Join(home, ".limsync", filename), nil
}
