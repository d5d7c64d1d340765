package storage

import "context"

// TelemetrySinkAdapter adapts Client to a2a.TelemetrySink's (any, error)
// return shape. Client.Index can't satisfy that interface directly since
// it already returns the narrower (*Document, error) its other callers
// depend on.
type TelemetrySinkAdapter struct {
	client *Client
}

func NewTelemetrySinkAdapter(client *Client) *TelemetrySinkAdapter {
	return &TelemetrySinkAdapter{client: client}
}

func (a *TelemetrySinkAdapter) Index(ctx context.Context, index, id string, body any) (any, error) {
	return a.client.Index(ctx, index, id, body)
}
