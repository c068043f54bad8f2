package crypto

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// Scrypt cost for new key files. Tests lower it.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// WriteAccountKey encrypts key into dir as "<address>.json" and returns the
// file path. Existing files are never overwritten.
func WriteAccountKey(dir string, key *PrivateKey, passphrase string) (string, error) {
	if key == nil {
		return "", errors.New("crypto: nil private key")
	}
	if passphrase == "" {
		return "", errors.New("crypto: empty passphrase")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	addr := key.PubKey().Address()
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    key.PubKey().commonAddress(),
		PrivateKey: key.PrivateKey,
	}, passphrase, scryptN, scryptP)
	if err != nil {
		return "", fmt.Errorf("crypto: encrypt key: %w", err)
	}
	path := filepath.Join(dir, addr.String()+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// OpenAccountKey decrypts a key file written by WriteAccountKey and returns
// the key with its account id.
func OpenAccountKey(path, passphrase string) (*PrivateKey, [20]byte, error) {
	var account [20]byte
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, account, err
	}
	decrypted, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, account, fmt.Errorf("crypto: decrypt %s: %w", filepath.Base(path), err)
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}
	return key, key.PubKey().Address().Raw(), nil
}
