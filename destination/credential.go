package destination

import (
	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

// keyringService namespaces this project's entries in the OS keyring so
// they don't collide with unrelated applications' secrets.
const keyringService = "imageintact"

// StoreCredential saves password under credentialKey in the OS keyring, for
// a WebDAV/SFTP destination whose password must never appear in the YAML
// preference file (SPEC_FULL.md's Preference store expansion).
func StoreCredential(credentialKey, password string) error {
	if err := keyring.Set(keyringService, credentialKey, password); err != nil {
		return errors.Wrapf(err, "store credential %s", credentialKey)
	}

	return nil
}

// LoadCredential retrieves the password previously stored under
// credentialKey.
func LoadCredential(credentialKey string) (string, error) {
	password, err := keyring.Get(keyringService, credentialKey)
	if err != nil {
		return "", errors.Wrapf(err, "load credential %s", credentialKey)
	}

	return password, nil
}
