package judge

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/mcdev12/codeduel/go/internal/models"
)

// Client talks to the external judge over Connect.
type Client struct {
	evaluate *connect.Client[EvaluateRequest, EvaluateResponse]
	lookup   *connect.Client[LookupRequest, LookupResponse]
}

// NewClient creates a judge client rooted at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		evaluate: connect.NewClient[EvaluateRequest, EvaluateResponse](httpClient, baseURL+EvaluateProcedure, opts...),
		lookup:   connect.NewClient[LookupRequest, LookupResponse](httpClient, baseURL+LookupProcedure, opts...),
	}
}

// Evaluate implements the verdict service used by the arbiter.
func (c *Client) Evaluate(ctx context.Context, problem models.ProblemRef, source, language string) (*models.Verdict, error) {
	resp, err := c.evaluate.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{
		ProblemID: problem.ID,
		Code:      source,
		Language:  language,
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluate submission: %w", err)
	}
	return toVerdict(resp.Msg)
}

// Lookup implements the problem catalog.
func (c *Client) Lookup(ctx context.Context, problemID string) (*models.ProblemRef, error) {
	resp, err := c.lookup.CallUnary(ctx, connect.NewRequest(&LookupRequest{ProblemID: problemID}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrProblemNotFound, problemID)
		}
		return nil, fmt.Errorf("lookup problem %s: %w", problemID, err)
	}

	difficulty, err := models.ParseDifficulty(resp.Msg.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("lookup problem %s: %w", problemID, err)
	}
	return &models.ProblemRef{
		ID:         resp.Msg.ID,
		Title:      resp.Msg.Title,
		Difficulty: difficulty,
	}, nil
}

func toVerdict(resp *EvaluateResponse) (*models.Verdict, error) {
	status := models.VerdictStatus(strings.ToLower(resp.Verdict))
	if status != models.VerdictAccepted && status != models.VerdictRejected {
		return nil, fmt.Errorf("judge returned unknown verdict %q", resp.Verdict)
	}

	v := &models.Verdict{
		Status: status,
		Tests:  make([]models.TestResult, 0, len(resp.Tests)),
	}
	for i, t := range resp.Tests {
		v.Tests = append(v.Tests, models.TestResult{
			Index:    i,
			Passed:   t.Passed,
			IsSample: !t.Hidden,
			Message:  t.Message,
		})
	}
	return v, nil
}
