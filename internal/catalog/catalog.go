// Package catalog is the static library of selectable party games. It is
// supplied once at load and never changes, so it rides outside the snapshot
// stream: the server exposes it on /library and clients fetch it a single
// time before connecting.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

//go:embed library.json
var seed []byte

type Game struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Library struct {
	GameList   []Game     `json:"gameList"`
	Categories []Category `json:"categories"`
}

// GameByID looks a game up; ok is false for an unknown id.
func (l Library) GameByID(id string) (Game, bool) {
	for _, g := range l.GameList {
		if g.ID == id {
			return g, true
		}
	}
	return Game{}, false
}

var (
	defaultOnce sync.Once
	defaultLib  Library
)

// Default returns the embedded library. The seed ships with the binary, so
// a parse failure is a build defect and panics.
func Default() Library {
	defaultOnce.Do(func() {
		if err := json.Unmarshal(seed, &defaultLib); err != nil {
			panic(fmt.Sprintf("catalog: bad embedded library: %v", err))
		}
	})
	return defaultLib
}

// Fetch retrieves the library from a running server, once, at startup.
func Fetch(ctx context.Context, baseURL string) (Library, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/library", nil)
	if err != nil {
		return Library{}, fmt.Errorf("build library request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Library{}, fmt.Errorf("fetch library: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Library{}, fmt.Errorf("fetch library: unexpected status %d", resp.StatusCode)
	}
	var lib Library
	if err := json.NewDecoder(resp.Body).Decode(&lib); err != nil {
		return Library{}, fmt.Errorf("decode library: %w", err)
	}
	return lib, nil
}
