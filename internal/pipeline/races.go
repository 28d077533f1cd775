package pipeline

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// RaceOptions wires a race engine.
type RaceOptions struct {
	Pages      PageSource
	Dataset    Dataset[record.Race]
	Extractor  *extract.RaceExtractor
	Normalizer *normalize.RaceNormalizer
	Policy     dedup.Policy[record.Race]
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Reporter   *Reporter
	Logger     *zap.Logger

	// Open resolves a run key other than Dataset's; nil rejects such runs.
	Open DatasetOpener[record.Race]

	// Baseline is dated and injected each run; nil injects nothing.
	Baseline []BaselineRace
}

// baselineCheckDay is the day baseline entries are resolved against when validating them.
const baselineCheckDay = "2000-01-01"

// NewRaceEngine builds the race pipeline: dedup, then baseline injection, then expiry.
func NewRaceEngine(opts RaceOptions) (*Engine[record.RaceCandidate, record.Race], error) {
	if opts.Extractor == nil || opts.Normalizer == nil || opts.Policy == nil {
		return nil, errors.New("pipeline: race extractor, normalizer and policy are required")
	}
	logger := newLogger(opts.Logger, VariantRaces)
	// Entries are dated per run; resolving them once here surfaces a bad entry at startup.
	if _, err := baselineRaces(opts.Baseline, opts.Normalizer, baselineCheckDay); err != nil {
		return nil, err
	}
	e := &Engine[record.RaceCandidate, record.Race]{
		variant:   VariantRaces,
		pages:     opts.Pages,
		dataset:   opts.Dataset,
		extract:   opts.Extractor.Extract,
		normalize: opts.Normalizer.Normalize,
		restore:   opts.Normalizer.Restore,
		open:      opts.Open,
		policy:    opts.Policy,
		finalize:  raceFinalizer(slices.Clone(opts.Baseline), opts.Normalizer, logger),
		clock:     opts.Clock,
		ids:       opts.IDs,
		reporter:  opts.Reporter,
		logger:    logger,
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// raceFinalizer injects missing baseline races, then drops every race that started before today.
func raceFinalizer(baseline []BaselineRace, n *normalize.RaceNormalizer, logger *zap.Logger) finalizer[record.Race] {
	return func(ix *dedup.Index[record.Race], now time.Time, result *Result) []record.Race {
		cutoff := n.Today(now)
		races, err := baselineRaces(baseline, n, cutoff)
		if err != nil {
			logger.Error("Skipping baseline injection", zap.Error(err))
		}
		for _, b := range races {
			if existing, ok := ix.Find(b); ok {
				logger.Debug("Baseline race already present", zap.String("name", b.Name), zap.String("matched", existing.Key))
				continue
			}
			ix.Add(b)
			result.BaselineInjected++
		}

		records := slices.DeleteFunc(ix.Records(), func(r record.Race) bool {
			if r.DateStart < cutoff {
				result.Expired++
				return true
			}
			return false
		})
		SortRaces(records)
		return records
	}
}

// SortRaces orders races by start date, then name, then key.
func SortRaces(races []record.Race) {
	slices.SortFunc(races, func(a, b record.Race) int {
		return cmp.Or(
			cmp.Compare(a.DateStart, b.DateStart),
			cmp.Compare(a.NormalizedName, b.NormalizedName),
			cmp.Compare(a.Key, b.Key),
		)
	})
}
