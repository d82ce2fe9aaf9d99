package server

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ClientSeed is one entry of the clients file. Secret is in plain text and
// only its bcrypt hash is stored.
type ClientSeed struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Secret          string         `json:"secret"`
	RedirectionURIs []RedirectSeed `json:"redirectionURIs"`
}

type RedirectSeed struct {
	URI               string   `json:"uri"`
	ResponseType      string   `json:"responseType"`
	Scope             []string `json:"scope"`
	ScopeFlags        []string `json:"scopeFlags"`
	NeedsClientSecret bool     `json:"needsClientSecret"`
}

// SeedClientsFile registers every client of the JSON file at path. An empty
// path is a no-op.
func SeedClientsFile(ctx context.Context, repo clients.Repo, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "[Server SeedClientsFile] opening clients file")
	}
	defer f.Close()
	return SeedClients(ctx, repo, f)
}

// SeedClients upserts the clients read from r. Re-seeding keeps the counters.
func SeedClients(ctx context.Context, repo clients.Repo, r io.Reader) error {
	var seeds []ClientSeed
	if err := json.NewDecoder(r).Decode(&seeds); err != nil {
		return errors.Wrap(err, "[Server SeedClients] decoding clients")
	}
	for _, seed := range seeds {
		client, err := seed.client()
		if err != nil {
			return errors.Wrapf(err, "[Server SeedClients] client %q", seed.ID)
		}
		if err := repo.Upsert(ctx, client); err != nil {
			return errors.Wrapf(err, "[Server SeedClients] storing client %q", seed.ID)
		}
		log.Info().
			Str("client_id", client.ID).
			Int("redirection_uris", len(client.RedirectionURIs)).
			Msg("client registered")
	}
	return nil
}

func (seed ClientSeed) client() (*clients.Client, error) {
	if seed.ID == "" {
		return nil, errors.New("id is required")
	}
	if len(seed.RedirectionURIs) == 0 {
		return nil, errors.New("at least one redirection uri is required")
	}

	client := &clients.Client{ID: seed.ID, Name: seed.Name}
	if seed.Secret != "" {
		hash, err := clients.HashSecret(seed.Secret)
		if err != nil {
			return nil, errors.Wrap(err, "hashing secret")
		}
		client.SecretHash = hash
	}

	for _, rs := range seed.RedirectionURIs {
		responseType := oauth2.ResponseType(rs.ResponseType)
		if rs.URI == "" || !responseType.Valid() {
			return nil, errors.Errorf("redirection uri %q needs a uri and a code or token response type", rs.URI)
		}
		scope, err := scopes.ParseScopes(rs.Scope)
		if err != nil {
			return nil, errors.Wrapf(err, "redirection uri %q", rs.URI)
		}
		flags, err := scopes.ParseFlags(rs.ScopeFlags)
		if err != nil {
			return nil, errors.Wrapf(err, "redirection uri %q", rs.URI)
		}
		if rs.NeedsClientSecret && client.SecretHash == "" {
			return nil, errors.Errorf("redirection uri %q needs a client secret but the client has none", rs.URI)
		}
		client.RedirectionURIs = append(client.RedirectionURIs, clients.RedirectionURI{
			URI:               rs.URI,
			ResponseType:      responseType,
			Scope:             scope,
			ScopeFlags:        flags,
			NeedsClientSecret: rs.NeedsClientSecret,
		})
	}
	return client, nil
}
