package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukex/flowpatch/pkg/flowerrors"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Mutate sends a GraphQL document and returns its data member.
func (c *Client) Mutate(ctx context.Context, query string) (json.RawMessage, error) {
	body, err := c.do(ctx, call{
		op:     "graphql",
		method: http.MethodPost,
		path:   graphqlPath,
		body:   graphqlRequest{Query: query, Variables: map[string]any{}},
	})
	if err != nil {
		return nil, err
	}

	var res graphqlResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &flowerrors.RemoteError{Op: "graphql", Message: "decoding response: " + err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
	}

	if len(res.Errors) > 0 {
		messages := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			messages = append(messages, e.Message)
		}

		return res.Data, &flowerrors.RemoteError{
			Op:      "graphql",
			Status:  http.StatusOK,
			Message: strings.Join(messages, "; "),
			Err:     classifyGraphQL(messages),
		}
	}

	return res.Data, nil
}

// classifyGraphQL maps GraphQL error text to the error taxonomy. The platform
// answers 200 for authorization failures inside GraphQL resolvers.
func classifyGraphQL(messages []string) error {
	for _, m := range messages {
		lower := strings.ToLower(m)
		if strings.Contains(lower, "not authorized") || strings.Contains(lower, "access denied") || strings.Contains(lower, "insufficient") {
			return flowerrors.ErrPermissionDenied
		}
	}

	return flowerrors.ErrRemoteMutationFailed
}
