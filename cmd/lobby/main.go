package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/partycrab/lobby/internal/catalog"
	"github.com/partycrab/lobby/internal/conn"
	"github.com/partycrab/lobby/internal/identity"
	"github.com/partycrab/lobby/internal/session"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "lobby server base URL")
	code := flag.String("code", "", "room code to join; empty creates a new room")
	dataDir := flag.String("data", "", "directory for the identity database")
	flag.Parse()

	if err := run(*server, *code, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "lobby:", err)
		os.Exit(1)
	}
}

func run(server, code, dataDir string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zap.NewNop()
	if path := os.Getenv("LOBBY_DEBUG_LOG"); path != "" {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{path}
		var err error
		if log, err = cfg.Build(); err != nil {
			return err
		}
		defer log.Sync()
	}

	if code == "" {
		var err error
		if code, err = createRoom(ctx, server); err != nil {
			return err
		}
	}
	code = strings.ToUpper(code)

	lib, err := catalog.Fetch(ctx, server)
	if err != nil {
		return err
	}

	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		dataDir = filepath.Join(base, "partycrab")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	store, err := identity.Open(filepath.Join(dataDir, "identity.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	machine := session.New(ctx, session.Config{
		Code:     code,
		Identity: store,
		Logger:   log,
	})
	client := conn.New(ctx, conn.Config{
		URL:      wsURL(server),
		Code:     code,
		Identity: store,
		Session:  machine.Inbox(),
		Logger:   log,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(newModel(code, lib, client, machine.Views()), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func createRoom(ctx context.Context, server string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/rooms", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return out.Code, nil
}

func wsURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	default:
		return server + "/ws"
	}
}
