package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	apiKey    string
	bearer    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "whetstonectl",
		Short: "Whetstone CLI - drive the skill improvement lifecycle",
		Long: `whetstonectl is a command-line interface for a Whetstone server.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "Whetstone server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("WHETSTONE_API_KEY"), "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&bearer, "token", os.Getenv("WHETSTONE_TOKEN"), "Bearer token carrying reviewer identity")

	// Add subcommands
	rootCmd.AddCommand(newSkillCommand())
	rootCmd.AddCommand(newRequestCommand())
	rootCmd.AddCommand(newPendingCommand())
	rootCmd.AddCommand(newHealthCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("WHETSTONE_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8080"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) do(method, path string, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string) ([]byte, error) {
	return c.do("GET", path, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, data)
}

func (c *Client) put(path string, data interface{}) ([]byte, error) {
	return c.do("PUT", path, data)
}

// action posts one improver action to the multiplexed endpoint.
func (c *Client) action(fields map[string]interface{}) ([]byte, error) {
	return c.post("/api/v1/improver", fields)
}

// outputJSON pretty-prints raw JSON data. All commands use this as the
// primary output path.
func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/health")
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
