package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playdeck/internal/core"
)

// FilePermission is the permission for token files
const FilePermission = 0600

// ErrNoToken means no token has been stored yet; run the login command.
var ErrNoToken = errors.New("no saved token")

var playbackScopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopeStreaming,
}

type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

// FileTokenProvider serves access tokens from a token file, refreshing them
// through the accounts service and writing refreshed tokens back.
type FileTokenProvider struct {
	config *core.SpotifyConfig
	oauth  *oauth2.Config
	logger *zap.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
	saved  string
}

func NewFileTokenProvider(config *core.SpotifyConfig, logger *zap.Logger) *FileTokenProvider {
	return &FileTokenProvider{
		config: config,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       playbackScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		logger: logger,
	}
}

// AccessToken returns a valid bearer token, refreshing it when expired.
func (p *FileTokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == nil {
		token, err := p.loadToken()
		if err != nil {
			return "", err
		}
		p.source = oauth2.ReuseTokenSource(token, p.oauth.TokenSource(context.WithoutCancel(ctx), token))
		p.saved = token.AccessToken
	}

	token, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if token.AccessToken != p.saved {
		if err := p.saveToken(token); err != nil {
			p.logger.Warn("Failed to save refreshed token", zap.Error(err))
		} else {
			p.saved = token.AccessToken
			p.logger.Debug("Saved refreshed token", zap.Time("expiry", token.Expiry))
		}
	}
	return token.AccessToken, nil
}

// Authorize runs the interactive authorization code flow: it prints the
// consent URL to out, reads the code from in and stores the exchanged token.
func (p *FileTokenProvider) Authorize(ctx context.Context, in io.Reader, out io.Writer) error {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(p.config.RedirectURL),
		spotifyauth.WithScopes(playbackScopes...),
		spotifyauth.WithClientID(p.config.ClientID),
		spotifyauth.WithClientSecret(p.config.ClientSecret),
	)

	state := "playdeck-" + uuid.NewString()
	fmt.Fprintf(out, "Please visit the following URL to authorize the application:\n%s\n", auth.AuthURL(state))
	fmt.Fprint(out, "Enter the authorization code: ")

	var code string
	if _, err := fmt.Fscanln(in, &code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.saveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	p.source = nil

	p.logger.Info("Authorization completed", zap.String("tokenPath", p.config.TokenPath))
	return nil
}

func (p *FileTokenProvider) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(p.config.TokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoToken, p.config.TokenPath)
	}
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tokenData.Token == nil {
		return nil, fmt.Errorf("%w at %s", ErrNoToken, p.config.TokenPath)
	}
	return tokenData.Token, nil
}

func (p *FileTokenProvider) saveToken(token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(p.config.TokenPath, data, FilePermission)
}
