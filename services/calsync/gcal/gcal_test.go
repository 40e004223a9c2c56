package gcal

import (
	"context"
	"encoding/json"
	"lmsync-backend/lib/telemetry"
	"lmsync-backend/lib/timezone"
	"lmsync-backend/services/calsync"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	creds map[string]calsync.Credential
}

func (p staticProvider) Get(ctx context.Context, user string) (calsync.Credential, bool, error) {
	cred, ok := p.creds[user]
	return cred, ok, nil
}

func (p staticProvider) Save(ctx context.Context, cred calsync.Credential) error {
	return nil
}

func (p staticProvider) Refresh(ctx context.Context, cred calsync.Credential) (calsync.Credential, error) {
	return cred, nil
}

func TestCreateEvent(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calsync/gcal")
	defer cleanup()

	var gotAuth string
	var gotBody eventBody
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		err := json.NewDecoder(r.Body).Decode(&gotBody)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := staticProvider{creds: map[string]calsync.Credential{
		"alice": {User: "alice", AccessToken: "tok123"},
	}}
	sink := NewSink(provider, SinkOptions{
		BaseUrl:    server.URL,
		CalendarId: "primary",
	})

	opens := time.Date(2024, time.October, 3, 10, 0, 0, 0, timezone.Location)
	closes := time.Date(2024, time.October, 5, 23, 59, 0, 0, timezone.Location)
	err := sink.CreateEvent(context.Background(), "alice", calsync.NormalizedEvent{
		RawEvent: calsync.RawEvent{
			Id:          "41",
			Title:       "Quiz 1",
			CourseLabel: "Chemistry Labs",
			Link:        "https://lms.example/mod/quiz/view.php?id=41",
		},
		OpensAt:  opens,
		ClosesAt: closes,
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer tok123", gotAuth)
	require.Equal(t, "/calendars/primary/events", gotPath)
	require.Equal(t, "Quiz 1", gotBody.Summary)
	require.Equal(t, "Course: Chemistry Labs", gotBody.Description)
	require.Equal(t, "https://lms.example/mod/quiz/view.php?id=41", gotBody.Location)
	require.Equal(t, opens.Format(time.RFC3339), gotBody.Start.DateTime)
	require.Equal(t, "Asia/Bangkok", gotBody.Start.TimeZone)
	require.Equal(t, "6", gotBody.ColorId)
}

func TestCreateEventSurfacesApiErrors(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calsync/gcal")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := staticProvider{creds: map[string]calsync.Credential{
		"alice": {User: "alice", AccessToken: "expired"},
	}}
	sink := NewSink(provider, SinkOptions{BaseUrl: server.URL})

	err := sink.CreateEvent(context.Background(), "alice", calsync.NormalizedEvent{})
	require.Error(t, err)

	// an unknown user never reaches the api
	err = sink.CreateEvent(context.Background(), "mallory", calsync.NormalizedEvent{})
	require.Error(t, err)
}
