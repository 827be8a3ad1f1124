package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"beacon/internal/api"
	"beacon/internal/auth"
	"beacon/internal/config"
)

// IssueToken asks the running server's ops API for a token and prints it.
func IssueToken(userID string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.IssueTokenRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/ops/tokens", cfg.OpsAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call ops API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to issue token (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result auth.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nToken Issued!\n")
	fmt.Printf("User:     %s\n", result.UserID)
	fmt.Printf("Token:    %s\n", result.Token)
	fmt.Printf("Expires:  %s\n\n", time.Unix(result.TokenExpiry, 0).Format(time.RFC3339))
	return nil
}
