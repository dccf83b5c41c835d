package razorpay

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	KeyID     string `json:"key_id"`
	KeySecret string `json:"key_secret"`
	Currency  string `json:"currency"`
	BaseURL   string `json:"base_url"`
}

// LoadConfig reads the JSON config and overlays key_id/key_secret from the CSV key file
// (header row plus one data row). Either file may be missing.
func LoadConfig(jsonPath, csvPath string) (Config, error) {
	cfg := Config{Currency: "INR", BaseURL: "https://api.razorpay.com"}

	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse razorpay config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read razorpay config: %w", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to open razorpay key file: %w", err)
	}
	defer f.Close()

	keyID, secret, err := readKeyCSV(f)
	if err != nil {
		return cfg, err
	}
	if keyID != "" {
		cfg.KeyID = keyID
	}
	if secret != "" {
		cfg.KeySecret = secret
	}
	return cfg, nil
}

func readKeyCSV(r io.Reader) (string, string, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return "", "", fmt.Errorf("failed to parse razorpay key file: %w", err)
	}
	if len(rows) < 2 {
		return "", "", nil
	}
	idCol, secretCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "key_id", "key id":
			idCol = i
		case "key_secret", "key secret":
			secretCol = i
		}
	}
	var keyID, secret string
	if idCol >= 0 && idCol < len(rows[1]) {
		keyID = strings.TrimSpace(rows[1][idCol])
	}
	if secretCol >= 0 && secretCol < len(rows[1]) {
		secret = strings.TrimSpace(rows[1][secretCol])
	}
	return keyID, secret, nil
}

// IsPlaceholder reports credentials that were never filled in.
func (c Config) IsPlaceholder() bool {
	for _, v := range []string{c.KeyID, c.KeySecret} {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" || strings.Contains(lower, "xxx") || strings.Contains(lower, "your_") ||
			strings.Contains(lower, "placeholder") {
			return true
		}
	}
	return false
}
