package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nafkem/LansRealEstate/internal/artifacts"
	"github.com/nafkem/LansRealEstate/internal/metrics"
	"github.com/nafkem/LansRealEstate/internal/repository"
)

// ArtifactSource provides artifacts and the build info that produced them.
type ArtifactSource interface {
	Load(name string) (*artifacts.ContractArtifact, error)
	BuildInfo(a *artifacts.ContractArtifact) (*artifacts.BuildInfo, error)
}

var _ ArtifactSource = (*artifacts.Store)(nil)

// NewRequest builds a verification request for a deployed future.
func NewRequest(src ArtifactSource, res repository.FutureResult) (*Request, error) {
	art, err := src.Load(res.ContractName)
	if err != nil {
		return nil, err
	}
	bi, err := src.BuildInfo(art)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(res.Address) {
		return nil, fmt.Errorf("verify: %s has invalid address %q", res.FutureID, res.Address)
	}
	return &Request{
		Address:         common.HexToAddress(res.Address),
		ContractName:    art.FullyQualifiedName(),
		CompilerVersion: bi.CompilerVersion(),
		Input:           bi.Input,
		ConstructorArgs: res.ConstructorArgs,
	}, nil
}

// ContractResult is the verification result of one future.
type ContractResult struct {
	FutureID string
	Address  common.Address
	Outcome  *Outcome
	Err      error
}

// Deployment verifies every recorded future. A failure for one contract does
// not stop the others; check each result's Err.
func Deployment(ctx context.Context, c *Client, src ArtifactSource, results []repository.FutureResult) []ContractResult {
	out := make([]ContractResult, 0, len(results))
	for _, res := range results {
		cr := ContractResult{FutureID: res.FutureID, Address: common.HexToAddress(res.Address)}

		req, err := NewRequest(src, res)
		if err == nil {
			cr.Outcome, err = verifyOne(ctx, c, req)
		}
		cr.Err = err

		switch {
		case err != nil:
			metrics.RecordVerification(metrics.StatusFailure)
			c.logger.Error("verification failed",
				slog.String("future", res.FutureID),
				slog.String("error", err.Error()),
			)
		case cr.Outcome.Status == StatusAlreadyVerified:
			metrics.RecordVerification(metrics.StatusSkipped)
			c.logger.Info("already verified", slog.String("future", res.FutureID), slog.String("url", cr.Outcome.URL))
		default:
			metrics.RecordVerification(metrics.StatusSuccess)
			c.logger.Info("verified", slog.String("future", res.FutureID), slog.String("url", cr.Outcome.URL))
		}

		out = append(out, cr)
		if ctx.Err() != nil {
			break
		}
	}
	return out
}

// verifyOne skips the submission when the explorer already has source for
// the address. A failed lookup falls through to Verify.
func verifyOne(ctx context.Context, c *Client, req *Request) (*Outcome, error) {
	verified, err := c.IsVerified(ctx, req.Address)
	if err != nil {
		c.logger.Debug("source lookup failed, submitting",
			slog.String("address", req.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if verified {
		return &Outcome{Status: StatusAlreadyVerified, URL: c.AddressURL(req.Address)}, nil
	}
	return c.Verify(ctx, req)
}
