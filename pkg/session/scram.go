package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Mechanism is a SASL authentication mechanism name as advertised by
// SASL_LIST_MECHS and selected for SASL_AUTH.
type Mechanism string

const (
	MechanismScramSHA512 Mechanism = "SCRAM-SHA512"
	MechanismScramSHA256 Mechanism = "SCRAM-SHA256"
	MechanismScramSHA1   Mechanism = "SCRAM-SHA1"
	MechanismPlain       Mechanism = "PLAIN"
)

// PreferredMechanism picks the strongest mechanism both sides support,
// preferring SHA-512 over SHA-256 over SHA-1 over PLAIN.
func PreferredMechanism(serverMechs []Mechanism) (Mechanism, error) {
	order := []Mechanism{MechanismScramSHA512, MechanismScramSHA256, MechanismScramSHA1, MechanismPlain}
	have := make(map[Mechanism]bool, len(serverMechs))
	for _, m := range serverMechs {
		have[m] = true
	}
	for _, m := range order {
		if have[m] {
			return m, nil
		}
	}
	return "", fmt.Errorf("session: no supported SASL mechanism in server list %v", serverMechs)
}

func hashFor(m Mechanism) (func() hash.Hash, error) {
	switch m {
	case MechanismScramSHA512:
		return sha512.New, nil
	case MechanismScramSHA256:
		return sha256.New, nil
	case MechanismScramSHA1:
		return sha1.New, nil
	default:
		return nil, fmt.Errorf("session: %s is not a SCRAM mechanism", m)
	}
}

// ScramClient drives one SCRAM-SHA-* exchange: client-first -> server-first
// -> client-final -> server verifies the final signature. It is used once
// per authentication attempt and discarded.
type ScramClient struct {
	mechanism  Mechanism
	newHash    func() hash.Hash
	username   string
	password   string
	clientNonce string

	clientFirstBare string
	serverFirst     string
	saltedPassword  []byte
	authMessage     string
}

// NewScramClient builds a client for mechanism, generating a fresh random
// nonce.
func NewScramClient(mechanism Mechanism, username, password string) (*ScramClient, error) {
	newHash, err := hashFor(mechanism)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	return &ScramClient{
		mechanism:   mechanism,
		newHash:     newHash,
		username:    username,
		password:    password,
		clientNonce: nonce,
	}, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// FirstMessage returns the client-first-message sent as the SASL_AUTH
// payload: "n,,n=<user>,r=<nonce>" with the username escaped per RFC 5802
// (',' -> "=2C", '=' -> "=3D").
func (c *ScramClient) FirstMessage() []byte {
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", scramEscape(c.username), c.clientNonce)
	return []byte("n,," + c.clientFirstBare)
}

func scramEscape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// FinalMessage consumes the server-first-message (r=<nonce>,s=<salt>,i=<iterations>)
// and returns the client-final-message to send as SASL_STEP payload.
func (c *ScramClient) FinalMessage(serverFirst []byte) ([]byte, error) {
	c.serverFirst = string(serverFirst)

	fields, err := parseScramFields(c.serverFirst)
	if err != nil {
		return nil, err
	}

	serverNonce, ok := fields["r"]
	if !ok || !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, fmt.Errorf("session: scram server nonce does not extend client nonce")
	}
	saltB64, ok := fields["s"]
	if !ok {
		return nil, fmt.Errorf("session: scram server-first missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("session: scram salt is not valid base64: %w", err)
	}
	iterStr, ok := fields["i"]
	if !ok {
		return nil, fmt.Errorf("session: scram server-first missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("session: scram server-first has invalid iteration count %q", iterStr)
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, c.newHash().Size(), c.newHash)

	clientKey := hmacSum(c.newHash, c.saltedPassword, []byte("Client Key"))
	storedKey := hashSum(c.newHash, clientKey)

	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalWithoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, serverNonce)

	c.authMessage = c.clientFirstBare + "," + c.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSum(c.newHash, storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	final := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

// VerifyServerFinal checks the server's closing "v=<signature>" message
// against the expected server signature, proving the server also knows
// the password (not just an attacker replaying the client's proof).
func (c *ScramClient) VerifyServerFinal(serverFinal []byte) error {
	fields, err := parseScramFields(string(serverFinal))
	if err != nil {
		return err
	}
	gotB64, ok := fields["v"]
	if !ok {
		return fmt.Errorf("session: scram server-final missing signature")
	}
	got, err := base64.StdEncoding.DecodeString(gotB64)
	if err != nil {
		return fmt.Errorf("session: scram server signature is not valid base64: %w", err)
	}

	serverKey := hmacSum(c.newHash, c.saltedPassword, []byte("Server Key"))
	want := hmacSum(c.newHash, serverKey, []byte(c.authMessage))

	if !hmac.Equal(got, want) {
		return fmt.Errorf("session: scram server signature mismatch, possible MITM")
	}
	return nil
}

func hmacSum(newHash func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(newHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashSum(newHash func() hash.Hash, data []byte) []byte {
	h := newHash()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func parseScramFields(msg string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("session: malformed scram field %q", part)
		}
		fields[kv[0]] = kv[1]
	}
	return fields, nil
}

// PlainAuthPayload builds the PLAIN SASL payload: "\0<username>\0<password>".
func PlainAuthPayload(username, password string) []byte {
	return []byte("\x00" + username + "\x00" + password)
}
