package judge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mcdev12/codeduel/go/internal/models"
)

// Catalog is anything that resolves problem ids.
type Catalog interface {
	Lookup(ctx context.Context, problemID string) (*models.ProblemRef, error)
}

// Evaluator runs submissions; implemented by judge backends.
type Evaluator interface {
	Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error)
}

// NewCatalogHandler serves a catalog over the Lookup procedure.
func NewCatalogHandler(catalog Catalog) (string, http.Handler) {
	return LookupProcedure, connect.NewUnaryHandler(
		LookupProcedure,
		func(ctx context.Context, req *connect.Request[LookupRequest]) (*connect.Response[LookupResponse], error) {
			id := strings.TrimSpace(req.Msg.ProblemID)
			if id == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("problemId is required"))
			}
			p, err := catalog.Lookup(ctx, id)
			if err != nil {
				if errors.Is(err, models.ErrProblemNotFound) {
					return nil, connect.NewError(connect.CodeNotFound, err)
				}
				return nil, connect.NewError(connect.CodeUnavailable, err)
			}
			return connect.NewResponse(&LookupResponse{
				ID:         p.ID,
				Title:      p.Title,
				Difficulty: string(p.Difficulty),
			}), nil
		},
		connect.WithCodec(jsonCodec{}),
	)
}

// NewEvaluateHandler serves an evaluator over the Evaluate procedure.
func NewEvaluateHandler(evaluator Evaluator) (string, http.Handler) {
	return EvaluateProcedure, connect.NewUnaryHandler(
		EvaluateProcedure,
		func(ctx context.Context, req *connect.Request[EvaluateRequest]) (*connect.Response[EvaluateResponse], error) {
			resp, err := evaluator.Evaluate(ctx, req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnavailable, err)
			}
			return connect.NewResponse(resp), nil
		},
		connect.WithCodec(jsonCodec{}),
	)
}
