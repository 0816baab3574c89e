package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/outreachhq/invoicing/pkg/httputil"
)

// defaultServer is used when neither -server nor INVOICING_SERVER is set
const defaultServer = "http://localhost:8080"

// apiClient talks to a running invoicing server
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(server, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// addServerFlag registers the -server flag shared by the remote commands
func addServerFlag(fs *flag.FlagSet) {
	server := os.Getenv("INVOICING_SERVER")
	if server == "" {
		server = defaultServer
	}
	fs.String("server", server, "Invoicing server URL")
}

// do sends body as JSON and decodes a 2xx response into out. Error responses
// are returned with the server's message.
func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// download fetches a raw response body
func (c *apiClient) download(path string) ([]byte, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("failed to call GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// apiError is an error response from the server
type apiError struct {
	Status  int
	Message string
	Details map[string]string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if field := e.Details["field"]; field != "" {
		msg += " (field " + field + ")"
	}
	return msg
}

func decodeAPIError(resp *http.Response) error {
	var body httputil.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return &apiError{Status: resp.StatusCode, Message: body.Error, Details: body.Details}
}
