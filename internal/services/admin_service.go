package services

import (
	"context"

	"github.com/tbourn/go-lockd-backend/internal/ledger"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AdminService runs operator tasks against the ledger.
type AdminService struct {
	Scorer  Scorer
	Heights HeightSource
}

// RunDecayPass applies decay at height, or at the current chain height when
// height is 0.
func (s *AdminService) RunDecayPass(ctx context.Context, height int64) (ledger.PassResult, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "RunDecayPass",
		trace.WithAttributes(attribute.Int64("height", height)),
	)
	defer span.End()

	if height < 0 {
		return ledger.PassResult{}, invalid("height", "must not be negative")
	}
	if height == 0 {
		h, err := s.Heights.CurrentHeight(ctx)
		if err != nil {
			return ledger.PassResult{}, chainErr(err)
		}
		height = h
	}
	return s.Scorer.RunDecayPass(ctx, height)
}

// ScoreDrift lists contents whose cached score disagrees with their locks.
func (s *AdminService) ScoreDrift(ctx context.Context) ([]ledger.Drift, error) {
	return s.Scorer.ScoreDrift(ctx)
}
