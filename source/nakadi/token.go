package nakadi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenProvider returns the bearer token to send with every broker call.
// Failures must be reported as *TokenError.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token. An empty token disables the
// Authorization header.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// EnvToken reads the token from an environment variable on every call.
type EnvToken string

func (e EnvToken) Token(context.Context) (string, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || strings.TrimSpace(v) == "" {
		return "", &TokenError{Err: fmt.Errorf("env var %q not set", string(e))}
	}
	return strings.TrimSpace(v), nil
}

// FileToken reads the token from a file on every call, so rotated secrets
// mounted into the container are picked up.
type FileToken string

func (f FileToken) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(string(f))
	if err != nil {
		return "", &TokenError{Err: err}
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", &TokenError{Err: errors.New("token file is empty")}
	}
	return tok, nil
}

// TokenFromConfig picks a provider from the token section of Config.
func TokenFromConfig(c TokenCfg) TokenProvider {
	switch {
	case c.File != "":
		return FileToken(c.File)
	case c.Env != "":
		return EnvToken(c.Env)
	default:
		return StaticToken(c.Static)
	}
}

func acquireToken(ctx context.Context, tp TokenProvider) (string, error) {
	if tp == nil {
		return "", nil
	}
	tok, err := tp.Token(ctx)
	if err != nil {
		var te *TokenError
		if !errors.As(err, &te) {
			err = &TokenError{Err: err}
		}
		return "", err
	}
	return tok, nil
}
