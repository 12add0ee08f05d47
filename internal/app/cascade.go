/**
 * @description
 * Biller cascade resolution: determines the ordered candidate biller(s) for
 * a purchase. Precedence, first match wins:
 *   1. an explicit force-cascade override (test traffic) maps to a single
 *      repeated biller pair,
 *   2. the biller used on the member's initial join,
 *   3. the external cascade-ranking collaborator.
 * The repeated pair in (1) and (2) is kept for consumers that expect a
 * two-element cascade.
 */

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/velora/purchase-service/internal/biller"
	"github.com/velora/purchase-service/internal/domain"
)

const forceCascadePrefix = "test-"

// BillerCascadeResolver picks the ordered billers to try for a purchase.
type BillerCascadeResolver struct {
	catalog *biller.Catalog
	ranking CascadeRankingService
}

// NewBillerCascadeResolver wires the resolver to the catalog and the
// external ranking collaborator.
func NewBillerCascadeResolver(catalog *biller.Catalog, ranking CascadeRankingService) *BillerCascadeResolver {
	return &BillerCascadeResolver{catalog: catalog, ranking: ranking}
}

// ResolveOptions carry the override inputs and the session context forwarded
// to the ranking collaborator.
type ResolveOptions struct {
	ForceCascade      string
	InitialJoinBiller string
	Ranking           CascadeRankingRequest
}

// Resolve returns the ordered billers to attempt. Overrides never reach the
// external ranking collaborator.
func (r *BillerCascadeResolver) Resolve(ctx context.Context, opts ResolveOptions) ([]biller.Biller, error) {
	if opts.ForceCascade != "" {
		name, ok := strings.CutPrefix(opts.ForceCascade, forceCascadePrefix)
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidForceCascade, opts.ForceCascade)
		}
		b, err := r.catalog.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidForceCascade, opts.ForceCascade)
		}
		return []biller.Biller{b, b}, nil
	}

	if opts.InitialJoinBiller != "" {
		b, err := r.catalog.Parse(opts.InitialJoinBiller)
		if err != nil {
			return nil, err
		}
		return []biller.Biller{b, b}, nil
	}

	names, err := r.ranking.Rank(ctx, opts.Ranking)
	if err != nil {
		return nil, fmt.Errorf("cascade ranking failed: %w", err)
	}
	billers := make([]biller.Biller, 0, len(names))
	for _, name := range names {
		b, err := r.catalog.ByName(name)
		if err != nil {
			return nil, err
		}
		billers = append(billers, b)
	}
	if len(billers) == 0 {
		return nil, fmt.Errorf("%w: cascade ranking returned no billers", domain.ErrUnknownBillerName)
	}
	return billers, nil
}
