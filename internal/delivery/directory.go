package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const directoryCacheTTL = 10 * time.Minute

// AuthDirectory резолвит email пользователя через сервис авторизации,
// с небольшим кешем: адреса меняются редко, а delivery дергает их часто.
type AuthDirectory struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]directoryEntry
}

type directoryEntry struct {
	email   string
	fetched time.Time
}

func NewAuthDirectory(baseURL string) *AuthDirectory {
	return &AuthDirectory{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cache:      make(map[string]directoryEntry),
	}
}

func (d *AuthDirectory) EmailFor(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	if e, ok := d.cache[userID]; ok && time.Since(e.fetched) < directoryCacheTTL {
		d.mu.Unlock()
		return e.email, nil
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/internal/users/"+userID, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("directory: status %d", resp.StatusCode)
	}
	var out struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	d.mu.Lock()
	d.cache[userID] = directoryEntry{email: out.Email, fetched: time.Now()}
	d.mu.Unlock()
	return out.Email, nil
}
