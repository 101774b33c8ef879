// Package sshkeys loads SSH client credentials and builds host key
// verification callbacks for remote scope connections.
package sshkeys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// IsKeyMaterial reports whether s holds inline PEM key material rather than
// a path to a key file.
func IsKeyMaterial(s string) bool {
	return strings.Contains(s, "-----BEGIN ")
}

// ReadKey returns the PEM bytes for keyPathOrPEM, reading the file when it
// is a path.
func ReadKey(keyPathOrPEM string) ([]byte, error) {
	if keyPathOrPEM == "" {
		return nil, fmt.Errorf("read private key: no key configured")
	}
	if IsKeyMaterial(keyPathOrPEM) {
		return []byte(keyPathOrPEM), nil
	}
	data, err := os.ReadFile(keyPathOrPEM)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return data, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer. A
// non-empty passphrase is used for encrypted keys; an encrypted key with no
// passphrase is reported as such.
func ParsePrivateKey(privateKeyPEM []byte, passphrase string) (ssh.Signer, error) {
	privateKeyPEM = bytes.TrimSpace(privateKeyPEM)
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(privateKeyPEM, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("parse private key: key is encrypted and no passphrase was given")
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// LoadSigner reads and parses the key named by keyPathOrPEM.
func LoadSigner(keyPathOrPEM, passphrase string) (ssh.Signer, error) {
	data, err := ReadKey(keyPathOrPEM)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(data, passphrase)
}
