package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	"net/url"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// NormalizeInput flattens newlines and escapes HTML entities in user input.
func NormalizeInput(text string) string {
	normalized := strings.Replace(text, "\n", " ", -1)
	normalized = html.EscapeString(normalized)
	return normalized
}

// SanitizeHTML escapes markup in remote-supplied profile text. Quill renders
// bios as plain text wrapped in its own markup, so escaping is sufficient.
func SanitizeHTML(text string) string {
	return html.EscapeString(text)
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair creates a new RSA keypair for signing federation
// requests. The private key is PKCS#1, the public key PKIX, both PEM-encoded
// so remote servers can consume the public half verbatim.
func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

// ExtractHost extracts the host from an actor IRI.
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func ExtractHost(iri string) (string, error) {
	parsed, err := url.Parse(iri)
	if err != nil {
		return "", fmt.Errorf("invalid IRI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("IRI has no host: %s", iri)
	}
	// url.Parse strips userinfo out of Host, so check the parsed User
	// field rather than looking for '@' in the host string.
	if parsed.User != nil {
		return "", fmt.Errorf("IRI contains userinfo: %s", iri)
	}
	return parsed.Host, nil
}

// ExtractOrigin returns scheme://host of an IRI.
func ExtractOrigin(iri string) (string, error) {
	parsed, err := url.Parse(iri)
	if err != nil {
		return "", fmt.Errorf("invalid IRI: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("IRI has no origin: %s", iri)
	}
	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), nil
}

// ExtractPathSegment returns the last path segment of an IRI.
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func ExtractPathSegment(iri string) string {
	trimmed := strings.TrimSuffix(iri, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) > 0 {
		segment := parts[len(parts)-1]
		return strings.TrimPrefix(segment, "@")
	}
	return ""
}
