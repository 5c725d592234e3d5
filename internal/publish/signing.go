package publish

import (
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ErrNoPrivateKey means the key file holds no secret key.
var ErrNoPrivateKey = errors.New("no private key in key ring")

// LoadSigningKey reads an armored OpenPGP secret key from path and decrypts
// it with passphrase when it is protected.
func LoadSigningKey(path, passphrase string) (*openpgp.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}
		if err := decryptEntity(entity, []byte(passphrase)); err != nil {
			return nil, err
		}
		return entity, nil
	}
	return nil, ErrNoPrivateKey
}

func decryptEntity(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return fmt.Errorf("signing key is encrypted and no passphrase was given")
		}
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("decrypt signing key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(passphrase); err != nil {
				return fmt.Errorf("decrypt signing subkey: %w", err)
			}
		}
	}
	return nil
}
