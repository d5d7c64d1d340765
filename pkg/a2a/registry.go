package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
)

var log = logging.Component("a2a")

const staleAfter = 5 * time.Minute

// Discovery is a deep-cloned snapshot of the last discoverAllAgents result.
type Discovery struct {
	Available   []models.AgentCard
	Unavailable []string
	FetchedAt   time.Time
	Stale       bool
}

// Registry holds the agent-card cache and runs discovery. Concurrency is
// guarded by a plain mutex: the registry is read far more than it is
// refreshed, and refreshes themselves are reentrancy-protected below.
type Registry struct {
	httpClient *http.Client
	baseURL    string

	mu        sync.Mutex
	last      *Discovery
	refreshMu sync.Mutex
}

func NewRegistry(baseURL string, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Registry{httpClient: httpClient, baseURL: baseURL}
}

// Card looks up an already-discovered agent card by id.
func (r *Registry) Card(agentID string) (models.AgentCard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return models.AgentCard{}, false
	}
	for _, card := range r.last.Available {
		if card.AgentID == agentID {
			return card, true
		}
	}
	return models.AgentCard{}, false
}

// GetLastDiscovery returns a deep-cloned snapshot of the last discovery,
// tagged stale once older than five minutes.
func (r *Registry) GetLastDiscovery() *Discovery {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	snapshot := *r.last
	snapshot.Available = append([]models.AgentCard(nil), r.last.Available...)
	snapshot.Unavailable = append([]string(nil), r.last.Unavailable...)
	snapshot.Stale = time.Since(snapshot.FetchedAt) > staleAfter
	return &snapshot
}

// DiscoverAll fetches each card in list in parallel, retrying a single
// transient (5xx) failure and never retrying 404. It never returns an
// error: agents that fail to resolve land in Unavailable.
func (r *Registry) DiscoverAll(ctx context.Context, list []string) (*Discovery, error) {
	type result struct {
		card models.AgentCard
		ok   bool
		id   string
	}

	results := make([]result, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, agentID := range list {
		i, agentID := i, agentID
		g.Go(func() error {
			card, err := r.fetchCard(gctx, agentID)
			if err != nil {
				results[i] = result{id: agentID, ok: false}
				return nil
			}
			results[i] = result{card: card, ok: true, id: agentID}
			return nil
		})
	}
	_ = g.Wait() // fetchCard never returns an error to the group; this never fails

	discovery := &Discovery{FetchedAt: time.Now().UTC()}
	for _, res := range results {
		if res.ok {
			discovery.Available = append(discovery.Available, res.card)
		} else {
			discovery.Unavailable = append(discovery.Unavailable, res.id)
		}
	}

	r.mu.Lock()
	previous := r.last
	r.last = discovery
	r.mu.Unlock()

	r.emitTransitionEvents(previous, discovery)
	return discovery, nil
}

// RefreshAgentCache is reentrancy-protected: a refresh already in flight
// causes concurrent callers to receive the current stale snapshot rather
// than piling up duplicate discovery calls.
func (r *Registry) RefreshAgentCache(ctx context.Context, list []string) (*Discovery, error) {
	if !r.refreshMu.TryLock() {
		return r.GetLastDiscovery(), nil
	}
	defer r.refreshMu.Unlock()
	return r.DiscoverAll(ctx, list)
}

func (r *Registry) fetchCard(ctx context.Context, agentID string) (models.AgentCard, error) {
	url := fmt.Sprintf("%s/agents/%s/card", r.baseURL, agentID)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		card, retryable, err := r.fetchCardOnce(ctx, url, agentID)
		if err == nil {
			return card, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return models.AgentCard{}, lastErr
}

// fetchCardOnce performs a single GET and reports whether a failure is
// worth retrying (transient 5xx/transport errors) as opposed to final
// (404, other 4xx, decode failure).
func (r *Registry) fetchCardOnce(ctx context.Context, url, agentID string) (models.AgentCard, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.AgentCard{}, false, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return models.AgentCard{}, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.AgentCard{}, false, fmt.Errorf("agent %s card not found", agentID)
	case resp.StatusCode >= 500:
		return models.AgentCard{}, true, fmt.Errorf("agent %s card fetch returned %d", agentID, resp.StatusCode)
	case resp.StatusCode >= 400:
		return models.AgentCard{}, false, fmt.Errorf("agent %s card fetch returned %d", agentID, resp.StatusCode)
	}

	var card models.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return models.AgentCard{}, false, err
	}
	card.AgentID = agentID
	if !strings.Contains(card.Endpoint, "://") {
		card.Endpoint = strings.TrimRight(r.baseURL, "/") + "/" + strings.TrimLeft(card.Endpoint, "/")
	}
	return card, false, nil
}

func (r *Registry) emitTransitionEvents(previous, current *Discovery) {
	prevUp := map[string]bool{}
	if previous != nil {
		for _, c := range previous.Available {
			prevUp[c.AgentID] = true
		}
	}
	currUp := map[string]bool{}
	for _, c := range current.Available {
		currUp[c.AgentID] = true
	}

	for id := range currUp {
		if !prevUp[id] {
			log.Info("agent:up", "agent_id", id)
		}
	}
	for id := range prevUp {
		if !currUp[id] {
			log.Info("agent:down", "agent_id", id)
		}
	}
}
