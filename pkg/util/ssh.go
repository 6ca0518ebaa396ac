package util

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// SSHKeyPair generates a new ed25519 key pair, returning the private key as
// OpenSSH PEM and the public key in authorized_keys format
func SSHKeyPair() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	pubKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}

	privPEM := new(bytes.Buffer)
	sshPrivKey, err := ssh.MarshalPrivateKey(priv, "kube-provisioner")
	if err != nil {
		return nil, nil, err
	}
	if err := pem.Encode(privPEM, sshPrivKey); err != nil {
		return nil, nil, err
	}
	return privPEM.Bytes(), ssh.MarshalAuthorizedKey(pubKey), nil
}

// LoadSigner reads an unencrypted private key file, such as the one named by
// a key credential, and returns a signer for it
func LoadSigner(path string) (ssh.Signer, error) {
	privPEM, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}
