package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"researchdesk/internal/store"
)

// Decrypter recovers plaintext credentials stored on agent configs.
type Decrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// authStrategy is resolved once per run from the agent config and applied to
// the outbound request before it is sent.
type authStrategy interface {
	apply(ctx context.Context, req *http.Request) error
}

type authNone struct{}

func (authNone) apply(context.Context, *http.Request) error { return nil }

type authBasic struct {
	username string
	password string
}

func (a authBasic) apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(a.username, a.password)
	return nil
}

type authBearer struct {
	token string
}

func (a authBearer) apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

// authLoginExchange performs a credential-for-token exchange against the
// agent's login endpoint, then presents the obtained token as a bearer
// credential. The exchange happens on every run; tokens are not cached.
type authLoginExchange struct {
	client   *http.Client
	loginURL string
	username string
	password string
}

// tokenFields is the precedence order for locating the token in the login
// response body.
var tokenFields = []string{"token", "access_token", "accessToken", "auth_token", "authToken"}

func (a authLoginExchange) apply(ctx context.Context, req *http.Request) error {
	payload, err := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})
	if err != nil {
		return fmt.Errorf("marshal login payload: %w", err)
	}
	loginReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	loginReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(loginReq)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(body))
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	for _, name := range tokenFields {
		if v, ok := fields[name]; ok {
			if tok, ok := v.(string); ok && tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
				return nil
			}
		}
	}
	return fmt.Errorf("login response contained no recognizable token field")
}

// resolveAuth maps an agent's stored auth configuration to a strategy,
// decrypting credential material along the way. An unknown auth type or
// missing required fields is a terminal configuration error for the run.
func resolveAuth(agent store.AgentConfig, dec Decrypter, client *http.Client) (authStrategy, error) {
	switch agent.AuthType {
	case "", store.AuthNone:
		return authNone{}, nil
	case store.AuthBasic:
		pass, err := decryptSecret(dec, agent.Password, "password")
		if err != nil {
			return nil, err
		}
		if agent.Username == "" || pass == "" {
			return nil, fmt.Errorf("basic auth requires both username and password")
		}
		return authBasic{username: agent.Username, password: pass}, nil
	case store.AuthAPIToken:
		if len(agent.APIToken) == 0 {
			return nil, fmt.Errorf("api token auth requires a stored token")
		}
		tok, err := dec.Decrypt(agent.APIToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt api token: %w", err)
		}
		return authBearer{token: tok}, nil
	case store.AuthUsernamePassword:
		if agent.LoginEndpointURL == "" {
			return nil, fmt.Errorf("username/password auth requires a login url")
		}
		pass, err := decryptSecret(dec, agent.Password, "password")
		if err != nil {
			return nil, err
		}
		return authLoginExchange{
			client:   client,
			loginURL: agent.LoginEndpointURL,
			username: agent.Username,
			password: pass,
		}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", agent.AuthType)
	}
}

func decryptSecret(dec Decrypter, ciphertext []byte, label string) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	plain, err := dec.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", label, err)
	}
	return plain, nil
}
