package clients

import (
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"golang.org/x/crypto/bcrypt"
)

type Client struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	SecretHash      string           `json:"-"`
	RedirectionURIs []RedirectionURI `json:"redirectionURIs"`
	Counters        Counters         `json:"counters"`
}

// RedirectionURI is one registered callback and the consent it asks for.
type RedirectionURI struct {
	URI               string                   `json:"uri"`
	ResponseType      oauth2.ResponseType      `json:"responseType"`
	Scope             scopes.Set[scopes.Scope] `json:"scope"`
	ScopeFlags        scopes.Set[scopes.Flag]  `json:"scopeFlags"`
	NeedsClientSecret bool                     `json:"needsClientSecret"`
}

// Counters are aggregate user statistics, only ever incremented.
type Counters struct {
	RegisteredUsers        int64 `json:"registeredUsers"`
	TestAccountsRegistered int64 `json:"testAccountsRegistered"`
	TestAccountsConverted  int64 `json:"testAccountsConverted"`
}

func (c Counters) IsZero() bool {
	return c == Counters{}
}

// RedirectionURI returns the registered URI matching uri exactly.
func (c *Client) RedirectionURI(uri string) (*RedirectionURI, bool) {
	for i := range c.RedirectionURIs {
		if c.RedirectionURIs[i].URI == uri {
			return &c.RedirectionURIs[i], true
		}
	}
	return nil, false
}

// CheckSecret compares secret against the stored bcrypt hash.
func (c *Client) CheckSecret(secret string) bool {
	if c.SecretHash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}
