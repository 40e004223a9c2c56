package keychain

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"lmsync-backend/lib/oauth"
	"lmsync-backend/lib/telemetry"
	"lmsync-backend/lib/timezone"
	"lmsync-backend/services/calsync"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/keychain")

const (
	defaultAuthUrl  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenUrl = "https://oauth2.googleapis.com/token"
	defaultScope    = "https://www.googleapis.com/auth/calendar https://www.googleapis.com/auth/userinfo.email"
)

type Options struct {
	ClientId     string
	ClientSecret string
	RedirectUri  string
	// AuthUrl/TokenUrl/Scope default to Google's endpoints.
	AuthUrl  string
	TokenUrl string
	Scope    string
}

// Service owns per-user OAuth material plus the portal password, and
// keeps access tokens fresh. It is the CredentialProvider consumed by
// the sync pipeline.
type Service struct {
	db     *sql.DB
	client *resty.Client
	opts   Options
}

func NewService(database *sql.DB, opts Options) *Service {
	if opts.AuthUrl == "" {
		opts.AuthUrl = defaultAuthUrl
	}
	if opts.TokenUrl == "" {
		opts.TokenUrl = defaultTokenUrl
	}
	if opts.Scope == "" {
		opts.Scope = defaultScope
	}

	client := resty.New()
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "services/keychain/http")

	return &Service{
		db:     database,
		client: client,
		opts:   opts,
	}
}

func (s *Service) Get(ctx context.Context, user string) (calsync.Credential, bool, error) {
	var cred calsync.Credential
	var expiresAt int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT user, access_token, refresh_token, expires_at, portal_password
		 FROM credentials WHERE user = ?`,
		user,
	).Scan(&cred.User, &cred.AccessToken, &cred.RefreshToken, &expiresAt, &cred.PortalPassword)
	if err == sql.ErrNoRows {
		return calsync.Credential{}, false, nil
	}
	if err != nil {
		return calsync.Credential{}, false, err
	}
	cred.ExpiresAt = time.Unix(expiresAt, 0).In(timezone.Location)
	return cred, true, nil
}

func (s *Service) Save(ctx context.Context, cred calsync.Credential) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO credentials (user, access_token, refresh_token, expires_at, portal_password)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			portal_password = excluded.portal_password`,
		cred.User, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.Unix(), cred.PortalPassword,
	)
	return err
}

// Users lists every enrolled user.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user FROM credentials ORDER BY user`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		err = rows.Scan(&user)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Refresh trades the refresh token for a fresh access token. The
// result is not persisted: callers decide when to Save it.
func (s *Service) Refresh(ctx context.Context, cred calsync.Credential) (calsync.Credential, error) {
	ctx, span := tracer.Start(ctx, "service:Refresh")
	defer span.End()

	if cred.RefreshToken == "" {
		err := fmt.Errorf("token is not refreshable")
		span.SetStatus(codes.Error, err.Error())
		return calsync.Credential{}, err
	}

	form := oauth.RefreshForm(s.opts.ClientId, s.opts.ClientSecret, cred.RefreshToken)

	res, err := s.client.R().
		SetContext(ctx).
		SetBody(form.Encode()).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		Post(s.opts.TokenUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to call token endpoint")
		return calsync.Credential{}, err
	}
	if res.IsError() {
		err := fmt.Errorf("token endpoint: %s: %s", res.Status(), res.String())
		span.SetStatus(codes.Error, err.Error())
		return calsync.Credential{}, err
	}

	var token oauth.OpenIdToken
	err = json.Unmarshal(res.Body(), &token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal token response")
		return calsync.Credential{}, err
	}

	// providers omit the refresh token on refresh responses
	if token.RefreshToken == "" {
		token.RefreshToken = cred.RefreshToken
	}

	cred.AccessToken = token.AccessToken
	cred.RefreshToken = token.RefreshToken
	cred.ExpiresAt = timezone.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return cred, nil
}

func (s *Service) exchangeCode(ctx context.Context, code string) (oauth.OpenIdToken, error) {
	form := oauth.ExchangeForm(s.opts.ClientId, s.opts.ClientSecret, s.opts.RedirectUri, code)

	res, err := s.client.R().
		SetContext(ctx).
		SetBody(form.Encode()).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		Post(s.opts.TokenUrl)
	if err != nil {
		return oauth.OpenIdToken{}, err
	}
	if res.IsError() {
		return oauth.OpenIdToken{}, fmt.Errorf("token endpoint: %s: %s", res.Status(), res.String())
	}

	var token oauth.OpenIdToken
	err = json.Unmarshal(res.Body(), &token)
	if err != nil {
		return oauth.OpenIdToken{}, err
	}
	return token, nil
}

func expiresAt(token oauth.OpenIdToken) time.Time {
	return timezone.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
}

func (s *Service) refreshExpiring(ctx context.Context) {
	users, err := s.Users(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list users for refresh", "err", err)
		return
	}

	cutoff := timezone.Now().Add(5 * time.Minute)
	for _, user := range users {
		cred, ok, err := s.Get(ctx, user)
		if err != nil || !ok {
			continue
		}
		if cred.RefreshToken == "" || cred.ExpiresAt.After(cutoff) {
			continue
		}

		refreshed, err := s.Refresh(ctx, cred)
		if err != nil {
			slog.WarnContext(ctx, "failed to refresh oauth token", "user", user, "err", err)
			continue
		}
		err = s.Save(ctx, refreshed)
		if err != nil {
			slog.WarnContext(ctx, "failed to save refreshed token", "user", user, "err", err)
		}
	}
}

// RefreshDaemon silently refreshes tokens that are about to expire.
func (s *Service) RefreshDaemon(ctx context.Context, interval time.Duration) {
	slog.InfoContext(ctx, "start daemon", "task", "refresh oauth tokens", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refreshExpiring(ctx)
		case <-ctx.Done():
			return
		}
	}
}
