// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"strings"

	"audio-assistant/internal/domain/ports/adapter"
)

var _ adapter.LLM = (*MultiLLM)(nil)

// MultiLLM sends calls to the default provider and falls back to the other
// configured providers when it fails. A stream only falls back while it
// has not produced any text.
type MultiLLM struct {
	order []adapter.LLM
}

func NewMultiLLM(defaultProvider string, byProvider map[string]adapter.LLM) (*MultiLLM, error) {
	norm := make(map[string]adapter.LLM, len(byProvider))
	for name, a := range byProvider {
		if a != nil {
			norm[strings.ToLower(name)] = a
		}
	}
	def := strings.ToLower(defaultProvider)
	var order []adapter.LLM
	if a, ok := norm[def]; ok {
		order = append(order, a)
	}
	for _, name := range slices.Sorted(maps.Keys(norm)) {
		if name != def {
			order = append(order, norm[name])
		}
	}
	if len(order) == 0 {
		return nil, errors.New("multi llm: no providers")
	}
	return &MultiLLM{order: order}, nil
}

func (m *MultiLLM) Complete(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	var errs []error
	for _, a := range m.order {
		out, err := a.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (m *MultiLLM) Stream(ctx context.Context, req adapter.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var errs []error
		for _, a := range m.order {
			produced := false
			var failed error
			for piece, err := range a.Stream(ctx, req) {
				if err != nil {
					failed = err
					break
				}
				produced = true
				if !yield(piece, nil) {
					return
				}
			}
			if failed == nil {
				return
			}
			if produced || ctx.Err() != nil {
				yield("", failed)
				return
			}
			errs = append(errs, failed)
		}
		yield("", errors.Join(errs...))
	}
}
