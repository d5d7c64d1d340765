package storage

import "context"

const IndexGitHubEvents = "github-events"

// GitHubEventStore is an append-only record of indexed GitHub webhook
// deliveries, kept for change correlation: the Coordinator's operational
// flow looks up recent deploys/pushes against an incident's affected
// services when deciding ChangeCorrelationConfidence.
type GitHubEventStore struct {
	client *Client
}

func NewGitHubEventStore(client *Client) *GitHubEventStore {
	return &GitHubEventStore{client: client}
}

// Record indexes one GitHub event under a fresh id, since delivery ids are
// not guaranteed unique across redelivery attempts and this index is
// write-once/append-only rather than keyed for upsert.
func (s *GitHubEventStore) Record(ctx context.Context, id string, body any) error {
	_, err := s.client.Index(ctx, IndexGitHubEvents, id, body)
	return err
}
