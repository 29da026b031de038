package federation

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// SignRequest signs an outgoing HTTP request with the given private key
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request against
// the given public key. The signed string is reconstructed from the header
// list declared in the Signature header itself, so it matches whatever
// order the remote signer used. Returns the signer's actor IRI.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	return actorIRIFromKeyId(verifier.KeyId()), nil
}

// VerifyInboundRequest resolves the claimed signer from the Signature
// header's keyId, fetches its public key and checks the signature. This is
// the one remote call whose failure must hard-fail the request. The body
// is checked against the Digest header here because the signature only
// covers header values, not the body itself.
func (s *Service) VerifyInboundRequest(req *http.Request, body []byte) (string, error) {
	if req.Header.Get("Signature") == "" {
		return "", fmt.Errorf("missing signature header")
	}

	if err := verifyDigest(req.Header.Get("Digest"), body); err != nil {
		return "", err
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to parse signature: %w", err)
	}

	actorIRI := actorIRIFromKeyId(verifier.KeyId())
	if actorIRI == "" {
		return "", fmt.Errorf("signature keyId is empty")
	}

	publicKeyPem, err := s.publicKeyForActor(actorIRI)
	if err != nil {
		return "", fmt.Errorf("failed to resolve signer key: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	return actorIRI, nil
}

// verifyDigest recomputes the body hash and compares it to the signed
// Digest header. Only SHA-256 digests are accepted.
func verifyDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing digest header")
	}
	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "SHA-256") {
		return fmt.Errorf("unsupported digest algorithm: %s", header)
	}
	sum := sha256.Sum256(body)
	if base64.StdEncoding.EncodeToString(sum[:]) != parts[1] {
		return fmt.Errorf("digest header does not match request body")
	}
	return nil
}

// publicKeyForActor prefers the cached actor row and falls back to fetching
// the actor document.
func (s *Service) publicKeyForActor(actorIRI string) (string, error) {
	err, cached := s.Db.ReadActorByIRI(actorIRI)
	if err == nil && cached != nil && cached.PublicKeyPem != "" {
		return cached.PublicKeyPem, nil
	}

	doc, err := s.fetchActorDocument(actorIRI)
	if err != nil {
		return "", err
	}
	if doc.PublicKey.PublicKeyPem == "" {
		return "", fmt.Errorf("actor %s has no public key", actorIRI)
	}
	return doc.PublicKey.PublicKeyPem, nil
}

// actorIRIFromKeyId strips the "#main-key" style fragment.
func actorIRIFromKeyId(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
