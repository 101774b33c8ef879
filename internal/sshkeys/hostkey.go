package sshkeys

import (
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// FingerprintMismatchError is returned when the remote host key does not
// match the pinned fingerprint.
type FingerprintMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("host key fingerprint mismatch for %s: expected %s, got %s (possible MITM attack)", e.Host, e.Expected, e.Actual)
}

// HostKeyPolicy selects how the remote host key is verified. The first
// non-empty field wins: KnownHostsFile, then Fingerprint. Fingerprint is
// either "SHA256:..." or the path of the host's public key in
// authorized_keys format. Insecure accepts any key and only logs its
// fingerprint.
type HostKeyPolicy struct {
	KnownHostsFile string
	Fingerprint    string
	Insecure       bool
}

// Callback builds the ssh.HostKeyCallback for the policy.
func (p HostKeyPolicy) Callback() (ssh.HostKeyCallback, error) {
	switch {
	case p.KnownHostsFile != "":
		cb, err := knownhosts.New(p.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", p.KnownHostsFile, err)
		}
		return cb, nil
	case p.Fingerprint != "":
		fp, err := ResolveFingerprint(p.Fingerprint)
		if err != nil {
			return nil, err
		}
		return PinnedFingerprint(fp), nil
	case p.Insecure:
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Printf("[sshkeys] WARNING: accepting unverified host key for %s (%s)", hostname, ssh.FingerprintSHA256(key))
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("no host key policy: set a known hosts file, a fingerprint, or allow insecure host keys")
	}
}

// PinnedFingerprint accepts only host keys whose SHA256 fingerprint equals
// expected ("SHA256:...").
func PinnedFingerprint(expected string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		actual := ssh.FingerprintSHA256(key)
		if actual != expected {
			return &FingerprintMismatchError{Host: hostname, Expected: expected, Actual: actual}
		}
		return nil
	}
}

// ResolveFingerprint returns value unchanged when it is already a SHA256
// fingerprint, otherwise it reads value as a public key file and returns
// that key's fingerprint.
func ResolveFingerprint(value string) (string, error) {
	if strings.HasPrefix(value, "SHA256:") {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("read host public key: %w", err)
	}
	return GetPublicKeyFingerprint(data)
}

// GetPublicKeyFingerprint returns the SHA256 fingerprint of a public key in
// authorized_keys format.
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(parsed), nil
}
