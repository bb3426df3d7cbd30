package router

import (
	"bytes"
	"context"

	"github.com/agentcoredev/runtime/core"
)

// LocalBackend is a deterministic, zero-cost LOCAL-tier backend used for
// on-box inference and as the default "chat"-capable backend spec §3
// requires at startup.
type LocalBackend struct {
	id           string
	capabilities map[string]bool
	transform    func(capability string, input []byte) []byte
}

// NewLocalBackend builds a LocalBackend. transform may be nil, in which
// case the backend simply echoes its input.
func NewLocalBackend(id string, capabilities []string, transform func(capability string, input []byte) []byte) *LocalBackend {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	return &LocalBackend{id: id, capabilities: caps, transform: transform}
}

func (b *LocalBackend) ID() string { return b.id }

func (b *LocalBackend) Invoke(ctx context.Context, capability string, input []byte, maxTokens int) (core.InvokeResult, error) {
	if !b.capabilities[capability] {
		return core.InvokeResult{}, &core.PermanentError{Cause: core.Errorf(core.KindCapabilityUnsupported, "backend %q does not support %q", b.id, capability)}
	}
	select {
	case <-ctx.Done():
		return core.InvokeResult{}, ctx.Err()
	default:
	}
	out := input
	if b.transform != nil {
		out = b.transform(capability, input)
	}
	var buf bytes.Buffer
	buf.Write(out)
	return core.InvokeResult{
		Content:      buf.Bytes(),
		TokensIn:     len(input) / 4,
		TokensOut:    len(out) / 4,
		FinishReason: "stop",
	}, nil
}

func (b *LocalBackend) Probe(ctx context.Context) error { return nil }
