package approval

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

const decisionSignaturePrefix = "sshsig-v1"

// DecisionSigner signs canonical decision payload bytes and returns an
// encoded signature string suitable for the ledger.
type DecisionSigner func(payload []byte) (string, error)

// DecisionPayload is the canonical byte sequence a decision signature
// covers. Any change to verdict or reason invalidates the signature.
func DecisionPayload(requestID string, approved bool, reason string) []byte {
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	return []byte(fmt.Sprintf("patchgate-decision\x00%s\x00%s\x00%s", requestID, verdict, reason))
}

// NewSSHDecisionSigner wraps an SSH private key as a DecisionSigner.
// The encoded form carries the signature format and public key so the
// ledger row is verifiable on its own.
func NewSSHDecisionSigner(signer ssh.Signer) DecisionSigner {
	pub := signer.PublicKey()
	pubB64 := base64.StdEncoding.EncodeToString(pub.Marshal())

	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", decisionSignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
}

// VerifyDecisionSignature checks an encoded signature against the
// payload and returns the signing public key on success.
func VerifyDecisionSignature(encoded string, payload []byte) (ssh.PublicKey, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 || parts[0] != decisionSignaturePrefix {
		return nil, fmt.Errorf("verify decision signature: malformed signature")
	}
	format := parts[1]
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("verify decision signature: public key: %w", err)
	}
	sigRaw, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("verify decision signature: blob: %w", err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("verify decision signature: public key: %w", err)
	}
	if err := pub.Verify(payload, &ssh.Signature{Format: format, Blob: sigRaw}); err != nil {
		return nil, fmt.Errorf("verify decision signature: %w", err)
	}
	return pub, nil
}
