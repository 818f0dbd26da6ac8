package mdm

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{
		BaseURL:       server.URL,
		Credentials:   NewCredentials("admin", "hunter2"),
		RetryCount:    3,
		Timeout:       5 * time.Second,
		UploadTimeout: 5 * time.Second,
		Logger:        zap.NewNop().Sugar(),
	})

	return client, server
}

func TestCategoryID(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/categories/name/MathWorks", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Basic YWRtaW46aHVudGVyMg==", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"category":{"id":17,"name":"MathWorks"}}`))
	})

	client, _ := newTestClient(t, mux)

	id, err := client.CategoryID(context.Background(), "MathWorks")
	require.NoError(t, err)
	require.Equal(t, "17", id)
}

func TestCategoryIDMissing(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.NotFoundHandler())

	id, err := client.CategoryID(context.Background(), "Nope")
	require.NoError(t, err)
	require.Equal(t, MissingID, id)
}

func TestEnsureCategoryCreates(t *testing.T) {
	t.Parallel()

	var posted Category

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/categories/name/MathWorks.R2021a", http.NotFound)
	mux.HandleFunc("/JSSResource/categories/id/0", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, xml.Unmarshal(body, &posted))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`<category><id>42</id></category>`))
	})

	client, _ := newTestClient(t, mux)

	id, err := client.EnsureCategory(context.Background(), "MathWorks.R2021a")
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.Equal(t, "MathWorks.R2021a", posted.Name)
}

func TestEnsureStaticGroupExisting(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/computergroups/name/MathWorks.R2021a.Advertised.STG",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"computer_group":{"id":9}}`))
		})

	client, _ := newTestClient(t, mux)

	id, err := client.EnsureStaticGroup(context.Background(), "MathWorks.R2021a.Advertised.STG")
	require.NoError(t, err)
	require.Equal(t, "9", id)
}

func TestPolicyRoundTrip(t *testing.T) {
	t.Parallel()

	var saved Policy

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/policies/name/Install MATLAB R2021a", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"policy":{"general":{"id":7}}}`))
	})
	mux.HandleFunc("/JSSResource/policies/id/7", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`<policy><general><id>7</id><name>Install MATLAB R2021a</name><enabled>true</enabled></general></policy>`))
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, xml.Unmarshal(body, &saved))
			_, _ = w.Write([]byte(`<policy><id>7</id></policy>`))
		}
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	id, err := client.PolicyID(ctx, "Install MATLAB R2021a")
	require.NoError(t, err)
	require.Equal(t, "7", id)

	policy, err := client.GetPolicy(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Install MATLAB R2021a", policy.General.Name)

	policy.SetCategory("17", "MathWorks.R2021a")

	savedID, err := client.SavePolicy(ctx, policy)
	require.NoError(t, err)
	require.Equal(t, "7", savedID)
	require.Equal(t, "MathWorks.R2021a", saved.General.Category.Name)
}

func TestSavePolicyCreates(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/policies/id/0", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`<policy><id>31</id></policy>`))
	})

	client, _ := newTestClient(t, mux)

	policy, err := LoadPolicyTemplate(AnchorPolicyTemplate)
	require.NoError(t, err)

	policy.General.Name = "MathWorks.R2021a.MATLAB"

	id, err := client.SavePolicy(context.Background(), policy)
	require.NoError(t, err)
	require.Equal(t, "31", id)
}

func TestUploadPackageAlreadyUploaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "MathWorks.R2021a.MATLAB.pkg")
	require.NoError(t, os.WriteFile(path, []byte("pkg-bytes"), 0o600))

	uploads := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/JSSResource/packages/name/MathWorks.R2021a.MATLAB.pkg",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"package":{"id":42}}`))
		})
	mux.HandleFunc("/dbfileupload", func(w http.ResponseWriter, _ *http.Request) {
		uploads++
		_, _ = w.Write([]byte(`<fileupload><id>99</id><successful>true</successful></fileupload>`))
	})

	client, _ := newTestClient(t, mux)

	id, err := client.UploadPackage(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.Zero(t, uploads)
}

func TestUploadPackage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "MathWorks.R2021a.MATLAB.pkg")
	require.NoError(t, os.WriteFile(path, []byte("pkg-bytes"), 0o600))

	attempts := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/dbfileupload", func(w http.ResponseWriter, r *http.Request) {
		attempts++

		require.Equal(t, "0", r.Header.Get("DESTINATION"))
		require.Equal(t, MissingID, r.Header.Get("OBJECT_ID"))
		require.Equal(t, "0", r.Header.Get("FILE_TYPE"))
		require.Equal(t, "MathWorks.R2021a.MATLAB.pkg", r.Header.Get("FILE_NAME"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "pkg-bytes", string(body))

		// First attempt reports an unsuccessful transfer.
		if attempts == 1 {
			_, _ = w.Write([]byte(`<fileupload><successful>false</successful></fileupload>`))
			return
		}

		_, _ = w.Write([]byte(`<fileupload><id>55</id><successful>true</successful></fileupload>`))
	})

	client, _ := newTestClient(t, mux)

	id, err := client.UploadPackage(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "55", id)
	require.Equal(t, 2, attempts)
}
