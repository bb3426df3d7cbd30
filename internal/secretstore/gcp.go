package secretstore

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GCPProvider resolves secrets against Google Secret Manager, grounded on
// andymwolf-agentium's cloud.google.com/go/secretmanager dependency. name is
// expected to already be a fully qualified resource name
// ("projects/p/secrets/s/versions/latest"); callers build that prefix once
// at configuration time rather than this package guessing a project id.
type GCPProvider struct {
	client *secretmanager.Client
}

// NewGCPProvider dials Secret Manager using ambient application-default
// credentials.
func NewGCPProvider(ctx context.Context) (*GCPProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secretstore: dial secret manager: %w", err)
	}
	return &GCPProvider{client: client}, nil
}

func (p *GCPProvider) FetchSecret(ctx context.Context, name string) ([]byte, error) {
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("secretstore: access %q: %w", name, err)
	}
	return resp.GetPayload().GetData(), nil
}

// Close releases the underlying gRPC connection.
func (p *GCPProvider) Close() error { return p.client.Close() }
