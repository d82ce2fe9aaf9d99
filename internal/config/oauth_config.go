package config

import (
	"fmt"
	"time"
)

// HashAlgorithm names the one-way digest applied to a token class before storage.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA384 HashAlgorithm = "sha384"
	HashSHA512 HashAlgorithm = "sha512"
)

func (h HashAlgorithm) Valid() bool {
	switch h {
	case HashSHA256, HashSHA384, HashSHA512:
		return true
	}
	return false
}

type OAuth struct {
	CodeValidity        time.Duration `env:"CODE_VALIDITY"`
	AccessTokenValidity time.Duration `env:"ACCESS_TOKEN_VALIDITY"`
	CodeHash            HashAlgorithm `env:"CODE_HASH"`
	AccessTokenHash     HashAlgorithm `env:"ACCESS_TOKEN_HASH"`
	RefreshTokenHash    HashAlgorithm `env:"REFRESH_TOKEN_HASH"`
}

func DefaultOAuth() OAuth {
	return OAuth{
		CodeValidity:        300 * time.Second,
		AccessTokenValidity: 3600 * time.Second,
		CodeHash:            HashSHA256,
		AccessTokenHash:     HashSHA256,
		RefreshTokenHash:    HashSHA256,
	}
}

func (o OAuth) validate() error {
	if o.CodeValidity <= 0 {
		return fmt.Errorf("OAUTH_CODE_VALIDITY must be positive")
	}
	if o.AccessTokenValidity <= 0 {
		return fmt.Errorf("OAUTH_ACCESS_TOKEN_VALIDITY must be positive")
	}
	for name, h := range map[string]HashAlgorithm{
		"OAUTH_CODE_HASH":          o.CodeHash,
		"OAUTH_ACCESS_TOKEN_HASH":  o.AccessTokenHash,
		"OAUTH_REFRESH_TOKEN_HASH": o.RefreshTokenHash,
	} {
		if !h.Valid() {
			return fmt.Errorf("%s: unsupported hash algorithm %q", name, h)
		}
	}
	return nil
}
