package keychain

import (
	"encoding/json"
	"fmt"
	"lmsync-backend/lib/oauth"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/codes"
)

type enrollRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// RegisterHandlers mounts the enrollment endpoints:
//
//	POST /enroll          store a user's portal password
//	GET  /auth?user=      redirect to the provider consent page
//	GET  /oauth2callback  provider redirect target, stores tokens
func (s *Service) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /enroll", s.handleEnroll)
	mux.HandleFunc("GET /auth", s.handleAuth)
	mux.HandleFunc("GET /oauth2callback", s.handleOauthCallback)
}

func (s *Service) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http:Enroll")
	defer span.End()

	var req enrollRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode enroll request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.User == "" || req.Password == "" {
		http.Error(w, "user and password are required", http.StatusBadRequest)
		return
	}

	// keep any oauth tokens the user already linked
	cred, _, err := s.Get(ctx, req.User)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load credential")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cred.User = req.User
	cred.PortalPassword = req.Password

	err = s.Save(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save credential")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "enrolled user", "user", req.User)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAuth(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http:Auth")
	defer span.End()

	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	// the state round-trips the user through the provider
	loginUrl, err := oauth.GetLoginUrl(ctx, oauth.AuthCodeRequest{
		AccessType:  "offline",
		Scope:       s.opts.Scope,
		RedirectUri: s.opts.RedirectUri,
		ClientId:    s.opts.ClientId,
		State:       user,
	}, s.opts.AuthUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build login url")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, loginUrl, http.StatusTemporaryRedirect)
}

func (s *Service) handleOauthCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http:OauthCallback")
	defer span.End()

	code := r.URL.Query().Get("code")
	user := r.URL.Query().Get("state")
	if code == "" || user == "" {
		http.Error(w, "code and state are required", http.StatusBadRequest)
		return
	}

	token, err := s.exchangeCode(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to exchange authorization code")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	cred, _, err := s.Get(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load credential")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cred.User = user
	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	cred.ExpiresAt = expiresAt(token)

	err = s.Save(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save credential")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "linked calendar account", "user", user)
	fmt.Fprintln(w, "Your calendar account has been linked. You can close this tab.")
}
