package fuzzymatch

import (
	"hash/fnv"
	"log/slog"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Resolver chooses a name-scoring engine for a merchant and resolves a
// supplier match, falling back from Engine B to Engine A transparently if
// the trigram query fails (spec.md §4.3.2 automatic fallback).
type Resolver struct {
	Suppliers domain.SupplierRepository
	Threshold float64

	// GlobalEngine is the operator-wide default engine.
	GlobalEngine Engine
	// RolloutPercent routes merchant_id-hash-mod-100 below this value to
	// Engine B; 0 disables the rollout entirely (global/default decides).
	RolloutPercent int
	// MerchantEngine, when non-empty, overrides the global/rollout choice
	// for a specific merchant (per-merchant settings file).
	MerchantEngine map[string]Engine
}

// NewResolver constructs a Resolver with Engine A as the default.
func NewResolver(suppliers domain.SupplierRepository, threshold float64) *Resolver {
	return &Resolver{Suppliers: suppliers, Threshold: threshold, GlobalEngine: EngineA}
}

// Resolve selects an engine (request override > merchant setting > global
// flag > rollout percentage > default Engine A) and returns the best
// matching supplier, if any clears the threshold.
func (r *Resolver) Resolve(ctx domain.Context, merchantID string, query domain.Supplier, requestOverride Engine) (Candidate, bool, error) {
	engine := r.selectEngine(merchantID, requestOverride)

	if engine == EngineB {
		cand, ok, err := r.resolveEngineB(ctx, merchantID, query)
		if err == nil {
			return cand, ok, nil
		}
		slog.Warn("fuzzymatch: engine B failed, falling back to engine A",
			slog.String("merchant_id", merchantID), slog.Any("error", err))
	}
	return r.resolveEngineA(ctx, merchantID, query)
}

func (r *Resolver) selectEngine(merchantID string, requestOverride Engine) Engine {
	if requestOverride != "" {
		return requestOverride
	}
	if r.MerchantEngine != nil {
		if eng, ok := r.MerchantEngine[merchantID]; ok && eng != "" {
			return eng
		}
	}
	if r.GlobalEngine == EngineB {
		return EngineB
	}
	if r.RolloutPercent > 0 && rolloutBucket(merchantID) < r.RolloutPercent {
		return EngineB
	}
	return EngineA
}

// rolloutBucket deterministically maps a merchant id to [0, 100) so the
// same merchant always lands in the same rollout bucket.
func rolloutBucket(merchantID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(merchantID))
	return int(h.Sum32() % 100)
}

func (r *Resolver) resolveEngineA(ctx domain.Context, merchantID string, query domain.Supplier) (Candidate, bool, error) {
	candidates, err := r.Suppliers.ListByMerchant(ctx, merchantID)
	if err != nil {
		return Candidate{}, false, err
	}
	cand, ok := BestMatch(query, candidates, LevenshteinScorer{}, EngineA, r.Threshold)
	return cand, ok, nil
}

func (r *Resolver) resolveEngineB(ctx domain.Context, merchantID string, query domain.Supplier) (Candidate, bool, error) {
	supplier, score, err := r.Suppliers.TrigramMatch(ctx, merchantID, query.Name)
	if err != nil {
		return Candidate{}, false, err
	}
	// TrigramMatch scores only the name signal; blend the remaining
	// contact signals in-process to stay consistent with Engine A's
	// weighting scheme.
	blended := score*weightName + contactScore(query, supplier)
	if blended < r.Threshold {
		return Candidate{}, false, nil
	}
	return Candidate{Supplier: supplier, Score: blended, Engine: EngineB}, true, nil
}

func contactScore(query, candidate domain.Supplier) float64 {
	emailScore := boolScore(equalFold(query.Email, candidate.Email))
	phoneScore := boolScore(normalizePhone(query.Phone) == normalizePhone(candidate.Phone) && normalizePhone(query.Phone) != "")
	websiteScore := boolScore(hostname(query.Website) == hostname(candidate.Website) && hostname(query.Website) != "")
	return emailScore*weightEmail + phoneScore*weightPhone + websiteScore*weightWebsite
}
