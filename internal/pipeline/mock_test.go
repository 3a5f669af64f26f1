package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/knowledge-cli/pkg/reasoner"
)

// mockReasoner is a testify mock of the reasoner client. AskStructured
// decodes the stubbed Raw payload into out, mirroring the real client.
type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) AskText(ctx context.Context, req reasoner.Request) (*reasoner.TextResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reasoner.TextResult), args.Error(1)
}

func (m *mockReasoner) AskStructured(ctx context.Context, req reasoner.Request, out any) (*reasoner.StructuredResult, error) {
	args := m.Called(ctx, req, out)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	res := args.Get(0).(*reasoner.StructuredResult)
	if res.ParseErr == nil && res.Raw != "" {
		_ = json.Unmarshal([]byte(reasoner.CleanJSON(res.Raw)), out)
	}
	return res, args.Error(1)
}

// structured builds a stubbed structured result from a raw JSON payload.
func structured(raw string) *reasoner.StructuredResult {
	return &reasoner.StructuredResult{Raw: raw, Model: "test-model"}
}

// unparseable builds a stubbed result carrying a parse error.
func unparseable(raw string) *reasoner.StructuredResult {
	return &reasoner.StructuredResult{
		Raw:      raw,
		ParseErr: &reasoner.ParseError{Reason: "no JSON object found", Raw: raw},
	}
}

// systemContains matches a request whose system prompt contains the needle.
func systemContains(needle string) any {
	return mock.MatchedBy(func(req reasoner.Request) bool {
		return strings.Contains(req.System, needle)
	})
}

// forModel additionally pins the request to a specific model.
func forModel(modelName, needle string) any {
	return mock.MatchedBy(func(req reasoner.Request) bool {
		return req.Model == modelName && strings.Contains(req.System, needle)
	})
}
