package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocli/internal/client"
	apperrors "hydrocli/internal/errors"
	"hydrocli/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActivateSuccess(t *testing.T) {
	expires := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "HS-1234-ABCD-EF56", body["licenseKey"])
		assert.Equal(t, "surveyor@example.com", body["email"])
		assert.NotEmpty(t, body["hardwareId"])

		json.NewEncoder(w).Encode(client.ActivationResponse{
			Success: true,
			License: &storage.License{
				LicenseID:     "lic-001",
				CustomerEmail: "surveyor@example.com",
				Edition:       "professional",
				IssuedAt:      time.Now().UTC(),
				ExpiresAt:     &expires,
				Features:      []string{"Tier:Professional"},
				Signature:     []byte("sig"),
			},
			ServerTime: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	resp, err := c.Activate(context.Background(), "HS-1234-ABCD-EF56", "surveyor@example.com", "fp")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.License)
	assert.Equal(t, "lic-001", resp.License.LicenseID)
}

func TestActivateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "license key not recognized"})
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	_, err := c.Activate(context.Background(), "HS-XXXX-XXXX-XXXX", "a@b.c", "fp")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrActivationFailed)
	assert.Contains(t, err.Error(), "license key not recognized")
	assert.False(t, apperrors.IsTransient(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	_, err := c.Heartbeat(context.Background(), "lic-001", "fp")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetworkError)
	assert.True(t, apperrors.IsTransient(err))
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := client.New(srv.URL, 50*time.Millisecond, discardLogger())
	_, err := c.Heartbeat(context.Background(), "lic-001", "fp")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetworkError)
	assert.True(t, apperrors.IsTransient(err))
}

func TestRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	_, err := c.Activate(context.Background(), "key", "a@b.c", "fp")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.True(t, apperrors.IsTransient(err))
}

func TestHeartbeatConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/heartbeat", r.URL.Path)
		json.NewEncoder(w).Encode(client.SessionResponse{
			Success:        true,
			IsValid:        true,
			Conflict:       true,
			ConflictDevice: "survey-laptop-2",
			ServerTime:     time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	resp, err := c.Heartbeat(context.Background(), "lic-001", "fp")
	require.NoError(t, err)
	assert.True(t, resp.Conflict)
	assert.Equal(t, "survey-laptop-2", resp.ConflictDevice)
}

func TestLicenseStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/licenses/lic-001/status", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(client.StatusResponse{
			LicenseID:  "lic-001",
			Status:     "revoked",
			Revoked:    true,
			Reason:     "chargeback",
			ServerTime: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	resp, err := c.LicenseStatus(context.Background(), "lic-001")
	require.NoError(t, err)
	assert.True(t, resp.Revoked)
	assert.Equal(t, "chargeback", resp.Reason)
}

func TestSyncCertificates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/certificates/sync", r.URL.Path)
		var body struct {
			Certificates []storage.ProcessingCertificate `json:"certificates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Certificates, 2)

		results := make([]client.CertificateResult, len(body.Certificates))
		for i, cert := range body.Certificates {
			results[i] = client.CertificateResult{
				CertificateID: cert.CertificateID,
				Accepted:      true,
			}
		}
		json.NewEncoder(w).Encode(client.CertificateSyncResponse{
			Results:    results,
			ServerTime: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, 5*time.Second, discardLogger())
	resp, err := c.SyncCertificates(context.Background(), []storage.ProcessingCertificate{
		{CertificateID: "cert-1", Payload: "p1", CreatedAt: time.Now()},
		{CertificateID: "cert-2", Payload: "p2", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Accepted)
	assert.Equal(t, "cert-1", resp.Results[0].CertificateID)
}
