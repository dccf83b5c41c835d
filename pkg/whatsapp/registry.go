package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

const DefaultServerID = "default"

// Server is one entry of whatsapp-servers.json.
type Server struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	APIKey      string `json:"apiKey,omitempty"`
	Environment string `json:"environment"`
	Capacity    int    `json:"capacity"` // 0 = unlimited
	Enabled     *bool  `json:"enabled,omitempty"`
}

func (s Server) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type serverFile struct {
	Servers []Server `json:"servers"`
}

// Registry maps server ids to gateway clients.
type Registry struct {
	mu       sync.Mutex
	servers  map[string]Server
	order    []string
	fallback Server
	clients  map[string]*Client
}

// NewRegistry builds a registry from servers; defaultURL serves unknown ids.
func NewRegistry(servers []Server, defaultURL string) *Registry {
	r := &Registry{
		servers:  make(map[string]Server, len(servers)),
		fallback: Server{ID: DefaultServerID, Name: "Default", URL: defaultURL},
		clients:  make(map[string]*Client),
	}
	for _, s := range servers {
		if s.ID == "" || s.URL == "" {
			continue
		}
		if _, dup := r.servers[s.ID]; !dup {
			r.order = append(r.order, s.ID)
		}
		r.servers[s.ID] = s
	}
	return r
}

// LoadRegistry reads a JSON list of servers. A missing file yields a registry with only
// the default server. Both a bare array and {"servers": [...]} are accepted.
func LoadRegistry(path, defaultURL string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewRegistry(nil, defaultURL), nil
		}
		return nil, fmt.Errorf("failed to read server list: %w", err)
	}

	var servers []Server
	if err := json.Unmarshal(data, &servers); err != nil {
		var wrapped serverFile
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse server list: %w", err)
		}
		servers = wrapped.Servers
	}
	return NewRegistry(servers, defaultURL), nil
}

// Resolve returns the pinned server, or the default one when serverID is unknown.
func (r *Registry) Resolve(serverID string) Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[serverID]; ok {
		return s
	}
	return r.fallback
}

func (r *Registry) Client(serverID string) *Client {
	s := r.Resolve(serverID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[s.ID]; ok {
		return c
	}
	c := NewClient(s.URL, s.APIKey)
	r.clients[s.ID] = c
	return c
}

// Servers returns configured servers in file order, or only the default one.
func (r *Registry) Servers() []Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return []Server{r.fallback}
	}
	out := make([]Server, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.servers[id])
	}
	return out
}

// Pick chooses the enabled server with the lowest fill ratio that still has room.
func (r *Registry) Pick(load map[string]int) Server {
	candidates := r.Servers()
	sort.SliceStable(candidates, func(i, j int) bool {
		return fillRatio(candidates[i], load) < fillRatio(candidates[j], load)
	})
	for _, s := range candidates {
		if !s.IsEnabled() {
			continue
		}
		if s.Capacity > 0 && load[s.ID] >= s.Capacity {
			continue
		}
		return s
	}
	return r.fallback
}

func fillRatio(s Server, load map[string]int) float64 {
	if s.Capacity <= 0 {
		return float64(load[s.ID]) / 1e9
	}
	return float64(load[s.ID]) / float64(s.Capacity)
}
