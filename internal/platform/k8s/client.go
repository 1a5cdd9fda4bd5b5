package k8s

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

const (
	serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"
	requestTimeout    = 15 * time.Second
	maxResponseBytes  = 2 << 20
)

var (
	ErrNotFound      = errors.New("kubernetes resource not found")
	ErrAlreadyExists = errors.New("kubernetes resource already exists")
	ErrUnauthorized  = errors.New("kubernetes request unauthorized")
	ErrForbidden     = errors.New("kubernetes request forbidden")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d): %s", e.StatusCode, body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the batch/v1 Jobs endpoints only: the orchestrator creates,
// reads and deletes Jobs and nothing else.
type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
}

func NewClient(baseURL, token, namespace string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kubernetes base url is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("kubernetes namespace is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:   baseURL,
		token:     strings.TrimSpace(token),
		namespace: strings.TrimSpace(namespace),
		http:      httpClient,
	}, nil
}

// Connection locates the API server. Empty fields fall back to the pod's
// service account mount.
type Connection struct {
	APIURL    string
	TokenFile string
	CAFile    string
	Namespace string
}

// ConnectionFromEnv reads DWH_K8S_API_URL, DWH_K8S_TOKEN_FILE and
// DWH_K8S_CA_FILE, so the orchestrator can also run outside the cluster.
func ConnectionFromEnv() Connection {
	return Connection{
		APIURL:    strings.TrimSpace(env.String("DWH_K8S_API_URL", "")),
		TokenFile: strings.TrimSpace(env.String("DWH_K8S_TOKEN_FILE", "")),
		CAFile:    strings.TrimSpace(env.String("DWH_K8S_CA_FILE", "")),
	}
}

func (c Connection) withDefaults() Connection {
	if c.APIURL == "" {
		host := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_HOST"))
		port := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_PORT"))
		c.APIURL = "https://kubernetes.default.svc"
		if host != "" {
			if port == "" {
				port = "443"
			}
			c.APIURL = "https://" + host + ":" + port
		}
	}
	if c.TokenFile == "" {
		c.TokenFile = serviceAccountDir + "/token"
	}
	if c.CAFile == "" {
		c.CAFile = serviceAccountDir + "/ca.crt"
	}
	return c
}

// Open builds a client from conn. The namespace file of the service account
// is only read when conn.Namespace is empty.
func Open(conn Connection) (*Client, error) {
	conn = conn.withDefaults()

	token, err := readTrimmed(conn.TokenFile, "token")
	if err != nil {
		return nil, err
	}
	namespace := conn.Namespace
	if namespace == "" {
		if namespace, err = readTrimmed(serviceAccountDir+"/namespace", "namespace"); err != nil {
			return nil, err
		}
	}
	caBytes, err := os.ReadFile(conn.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read kubernetes ca %s: %w", conn.CAFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("invalid kubernetes ca bundle %s", conn.CAFile)
	}

	return NewClient(conn.APIURL, token, namespace, &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
		Timeout:   requestTimeout,
	})
}

func readTrimmed(path, what string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read kubernetes %s %s: %w", what, path, err)
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return "", fmt.Errorf("kubernetes %s %s is empty", what, path)
	}
	return v, nil
}

func (c *Client) Namespace() string {
	return c.namespace
}

func (c *Client) jobsPath(namespace string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = c.namespace
	}
	return "/apis/batch/v1/namespaces/" + namespace + "/jobs"
}

func (c *Client) CreateJob(ctx context.Context, namespace string, job Job) error {
	job.APIVersion = "batch/v1"
	job.Kind = "Job"
	if strings.TrimSpace(namespace) == "" {
		namespace = c.namespace
	}
	job.Metadata.Namespace = namespace
	return c.send(ctx, http.MethodPost, c.jobsPath(namespace), job, nil)
}

func (c *Client) GetJob(ctx context.Context, namespace string, name string) (Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Job{}, errors.New("job name is required")
	}
	var out Job
	if err := c.send(ctx, http.MethodGet, c.jobsPath(namespace)+"/"+name, nil, &out); err != nil {
		return Job{}, err
	}
	return out, nil
}

// DeleteJob removes a Job and, in the background, its pods. A Job that is
// already gone is not an error.
func (c *Client) DeleteJob(ctx context.Context, namespace string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name is required")
	}
	opts := map[string]string{"kind": "DeleteOptions", "apiVersion": "v1", "propagationPolicy": "Background"}
	err := c.send(ctx, http.MethodDelete, c.jobsPath(namespace)+"/"+name, opts, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode kubernetes response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyExists
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
}
