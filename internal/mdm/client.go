package mdm

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// MissingID is the object id the API uses for resources that do not
// exist yet. File uploads against it create a new package record.
const MissingID = "-1"

const resourcePrefix = "/JSSResource"

var (
	// ErrNotFound is returned when a named resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrUploadFailed is returned when the file upload endpoint reports an
	// unsuccessful transfer after all retries.
	ErrUploadFailed = errors.New("package upload failed")
	// ErrNoPrestageScript is returned when a policy template lacks the
	// prestage script its parameters should be written to.
	ErrNoPrestageScript = errors.New("policy has no prestage script")
	// ErrUnexpectedStatus is returned on unanticipated HTTP status codes.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Options configures the management API client.
type Options struct {
	// BaseURL is the server root, for example "https://mdm.example.org:8443".
	BaseURL string
	// Credentials authenticates every request.
	Credentials Credentials
	// RetryCount bounds retries for transient failures and failed uploads.
	RetryCount int
	// Timeout bounds ordinary API calls.
	Timeout time.Duration
	// UploadTimeout bounds package uploads, which move multi-gigabyte files.
	UploadTimeout time.Duration
	// Logger receives retry diagnostics.
	Logger *zap.SugaredLogger
}

// Client talks to the device management server's classic API. Lookups use
// the JSON representation, writes send XML documents.
type Client struct {
	baseURL       string
	authHeader    string
	retryCount    int
	timeout       time.Duration
	uploadTimeout time.Duration
	http          *retryablehttp.Client
	logger        *zap.SugaredLogger
}

// NewClient builds a client from the given options.
func NewClient(opts Options) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = opts.RetryCount
	httpClient.Logger = retryLogger{log: opts.Logger}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		authHeader:    opts.Credentials.Header(),
		retryCount:    opts.RetryCount,
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		http:          httpClient,
		logger:        opts.Logger,
	}
}

// retryLogger adapts the zap sugared logger to the retryable client's
// leveled logger interface.
type retryLogger struct {
	log *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

// CategoryID resolves a category name to its id, MissingID when absent.
func (c *Client) CategoryID(ctx context.Context, name string) (string, error) {
	var doc struct {
		Category struct {
			ID json.Number `json:"id"`
		} `json:"category"`
	}

	err := c.getJSON(ctx, "/categories/name/"+url.PathEscape(name), &doc)
	if errors.Is(err, ErrNotFound) {
		return MissingID, nil
	}

	if err != nil {
		return "", err
	}

	return doc.Category.ID.String(), nil
}

// EnsureCategory returns the id of the named category, creating it first
// when it does not exist yet.
func (c *Client) EnsureCategory(ctx context.Context, name string) (string, error) {
	id, err := c.CategoryID(ctx, name)
	if err != nil {
		return "", err
	}

	if id != MissingID {
		return id, nil
	}

	c.logger.Infow("Creating category.", "name", name)

	doc := Category{Name: name, Priority: 9}

	raw, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal category %q: %w", name, err)
	}

	return c.postXML(ctx, "/categories/id/0", raw)
}

// StaticGroupID resolves a computer group name to its id, MissingID when
// absent.
func (c *Client) StaticGroupID(ctx context.Context, name string) (string, error) {
	var doc struct {
		Group struct {
			ID json.Number `json:"id"`
		} `json:"computer_group"`
	}

	err := c.getJSON(ctx, "/computergroups/name/"+url.PathEscape(name), &doc)
	if errors.Is(err, ErrNotFound) {
		return MissingID, nil
	}

	if err != nil {
		return "", err
	}

	return doc.Group.ID.String(), nil
}

// EnsureStaticGroup returns the id of the named static computer group,
// creating an empty one when it does not exist yet.
func (c *Client) EnsureStaticGroup(ctx context.Context, name string) (string, error) {
	id, err := c.StaticGroupID(ctx, name)
	if err != nil {
		return "", err
	}

	if id != MissingID {
		return id, nil
	}

	c.logger.Infow("Creating static computer group.", "name", name)

	doc := ComputerGroup{Name: name, IsSmart: false}

	raw, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal computer group %q: %w", name, err)
	}

	return c.postXML(ctx, "/computergroups/id/0", raw)
}

// PackageID resolves a package name to its id, MissingID when absent.
func (c *Client) PackageID(ctx context.Context, name string) (string, error) {
	var doc struct {
		Package struct {
			ID json.Number `json:"id"`
		} `json:"package"`
	}

	err := c.getJSON(ctx, "/packages/name/"+url.PathEscape(name), &doc)
	if errors.Is(err, ErrNotFound) {
		return MissingID, nil
	}

	if err != nil {
		return "", err
	}

	return doc.Package.ID.String(), nil
}

// PolicyID resolves a policy name to its id, MissingID when absent.
func (c *Client) PolicyID(ctx context.Context, name string) (string, error) {
	var doc struct {
		Policy struct {
			General struct {
				ID json.Number `json:"id"`
			} `json:"general"`
		} `json:"policy"`
	}

	err := c.getJSON(ctx, "/policies/name/"+url.PathEscape(name), &doc)
	if errors.Is(err, ErrNotFound) {
		return MissingID, nil
	}

	if err != nil {
		return "", err
	}

	return doc.Policy.General.ID.String(), nil
}

// GetPolicy fetches the full XML document of a policy by id.
func (c *Client) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(requestCtx, http.MethodGet, resourcePrefix+"/policies/id/"+id, "application/xml", nil)
	if err != nil {
		return nil, err
	}

	var policy Policy
	if err = xml.Unmarshal(body, &policy); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", id, err)
	}

	return &policy, nil
}

// SavePolicy creates or updates a policy and returns its id. A policy is
// created when its id is empty or MissingID, updated otherwise.
func (c *Client) SavePolicy(ctx context.Context, policy *Policy) (string, error) {
	id := policy.General.ID
	creating := id == "" || id == MissingID

	// The server assigns ids; a posted document must not carry one.
	policy.General.ID = ""

	raw, err := policy.Marshal()
	if err != nil {
		return "", err
	}

	if creating {
		c.logger.Infow("Creating policy.", "name", policy.General.Name)

		return c.postXML(ctx, "/policies/id/0", raw)
	}

	c.logger.Infow("Updating policy.", "name", policy.General.Name, "id", id)

	return c.putXML(ctx, "/policies/id/"+id, raw)
}

// uploadResponse is the body returned by the file upload endpoint.
type uploadResponse struct {
	ID         string `xml:"id"`
	Successful string `xml:"successful"`
}

// UploadPackage streams a package file to the server and returns the id of
// the created package record. A package already known to the server is not
// re-uploaded; unsuccessful transfers are retried up to the configured retry
// count.
func (c *Client) UploadPackage(ctx context.Context, path string) (string, error) {
	name := filepath.Base(path)

	id, err := c.PackageID(ctx, name)
	if err != nil {
		return "", err
	}

	if id != MissingID {
		c.logger.Infow("Package is already uploaded.", "package", name, "id", id)
		return id, nil
	}

	var lastErr error

	for attempt := 1; attempt <= c.retryCount; attempt++ {
		id, err := c.uploadOnce(ctx, path, name)
		if err == nil {
			return id, nil
		}

		lastErr = err

		c.logger.Warnw("Package upload attempt failed.",
			"package", name,
			"attempt", attempt,
			"error", err)
	}

	return "", lastErr
}

func (c *Client) uploadOnce(ctx context.Context, path, name string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open package %q: %w", path, err)
	}
	defer file.Close()

	requestCtx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	request, err := retryablehttp.NewRequestWithContext(
		requestCtx, http.MethodPost, c.baseURL+"/dbfileupload", file)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}

	request.Header.Set("Authorization", c.authHeader)
	request.Header.Set("DESTINATION", "0")
	request.Header.Set("OBJECT_ID", MissingID)
	request.Header.Set("FILE_TYPE", "0")
	request.Header.Set("FILE_NAME", name)

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("upload package %q: %w", name, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: upload returned %s", ErrUnexpectedStatus, response.Status)
	}

	var result uploadResponse
	if err = xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}

	if result.Successful != "true" || result.ID == "" {
		return "", ErrUploadFailed
	}

	return result.ID, nil
}

// getJSON fetches a resource in its JSON representation.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(requestCtx, http.MethodGet, resourcePrefix+path, "application/json", nil)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response for %s: %w", path, err)
	}

	return nil
}

// postXML creates a resource and returns the id the server assigned.
func (c *Client) postXML(ctx context.Context, path string, payload []byte) (string, error) {
	return c.writeXML(ctx, http.MethodPost, path, payload)
}

// putXML updates a resource and returns its id.
func (c *Client) putXML(ctx context.Context, path string, payload []byte) (string, error) {
	return c.writeXML(ctx, http.MethodPut, path, payload)
}

func (c *Client) writeXML(ctx context.Context, method, path string, payload []byte) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.do(requestCtx, method, resourcePrefix+path, "application/xml", payload)
	if err != nil {
		return "", err
	}

	// Writes answer with a minimal document wrapping the assigned id.
	var result struct {
		ID string `xml:"id"`
	}

	if err = xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response for %s: %w", path, err)
	}

	return result.ID, nil
}

// do performs one API request and returns the response body.
func (c *Client) do(ctx context.Context, method, path, accept string, payload []byte) ([]byte, error) {
	var body interface{}
	if payload != nil {
		body = payload
	}

	request, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request for %s: %w", method, path, err)
	}

	request.Header.Set("Authorization", c.authHeader)
	request.Header.Set("Accept", accept)

	if payload != nil {
		request.Header.Set("Content-Type", "application/xml")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read response for %s: %w", path, err)
	}

	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case response.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s %s returned %s", ErrUnexpectedStatus, method, path, response.Status)
	}

	return responseBody, nil
}
