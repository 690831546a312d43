package catalog

import "context"

// MockClient implements Client with fixed listings for testing
type MockClient struct {
	Listings map[Kind][]string
	Err      error
	Calls    []Kind
}

// NewMockClient creates a mock client returning the given plugins and themes
func NewMockClient(plugins, themes []string) *MockClient {
	return &MockClient{Listings: map[Kind][]string{Plugins: plugins, Themes: themes}}
}

func (m *MockClient) List(ctx context.Context, kind Kind) ([]string, error) {
	m.Calls = append(m.Calls, kind)
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Listings[kind], nil
}
