package rewrite

import "fmt"

type NamedProvider struct {
	Ref      ProviderRef
	Provider Provider
}

// Manager holds the configured rewrite providers in failover order.
type Manager struct {
	providers []NamedProvider
}

func NewManager(providerList string) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(providerList) {
		p, err := buildProvider(ref)
		if err != nil {
			return nil, err
		}
		m.providers = append(m.providers, NamedProvider{Ref: ref, Provider: p})
	}
	if len(m.providers) == 0 {
		m.providers = []NamedProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider()}}
	}
	return m, nil
}

func (m *Manager) Count() int {
	return len(m.providers)
}

func (m *Manager) ByIndex(i int) (Provider, ProviderRef) {
	if len(m.providers) == 0 {
		return NewMockProvider(), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.providers) {
		i = 0
	}
	return m.providers[i].Provider, m.providers[i].Ref
}

func buildProvider(ref ProviderRef) (Provider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported rewrite provider: %s", ref.Name)
	}
}
