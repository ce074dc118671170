package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/iliyamo/waitlist-admin/internal/client/api"
	"github.com/iliyamo/waitlist-admin/internal/client/authstate"
)

const sessionFileEnv = "WAITLIST_SESSION_FILE"

// savedSession is the on-disk form of a session.  It holds a bearer
// credential and is written with mode 0600.
type savedSession struct {
	Server  string        `json:"server"`
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

// sessionPath resolves flag, then environment, then the user config dir.
func sessionPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if p := os.Getenv(sessionFileEnv); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "waitlist-admin", "session.json"), nil
}

func loadSession(path string) (*savedSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &s, nil
}

func saveSession(path string, s *savedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *savedSession) httpCookies(now time.Time) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/", Expires: c.Expires})
	}
	return out
}

// cliSession ties a client, its controller and the session file together
// for one command.
type cliSession struct {
	path   string
	server string
	client *api.Client
	ctl    *authstate.Controller
	states chan authstate.State
}

// open loads the saved session for g.server and mounts a controller on it.
// A session saved for another server is ignored.
func open(ctx context.Context, g *globalFlags) (*cliSession, error) {
	path, err := sessionPath(g.sessionFile)
	if err != nil {
		return nil, err
	}
	client, err := api.New(g.server)
	if err != nil {
		return nil, err
	}
	saved, err := loadSession(path)
	if err != nil {
		return nil, err
	}
	if saved != nil && saved.Server == g.server {
		client.SetCookies(saved.httpCookies(time.Now()))
	}

	s := &cliSession{path: path, server: g.server, client: client, states: make(chan authstate.State, 16)}
	s.ctl = authstate.New(client, nil, authstate.WithListener(func(st authstate.State) {
		select {
		case s.states <- st:
		default:
		}
	}))
	s.ctl.Start(ctx)
	return s, nil
}

// settled waits for the mount check to leave loading.
func (s *cliSession) settled(ctx context.Context) (authstate.State, error) {
	for {
		if st := s.ctl.State(); st.Status != authstate.StatusLoading {
			return st, nil
		}
		select {
		case <-s.states:
		case <-ctx.Done():
			return authstate.State{}, ctx.Err()
		}
	}
}

func (s *cliSession) save() error {
	out := &savedSession{Server: s.server}
	for _, c := range s.client.Cookies() {
		out.Cookies = append(out.Cookies, savedCookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	return saveSession(s.path, out)
}
