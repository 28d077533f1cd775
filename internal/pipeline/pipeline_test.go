package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/clock/system"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawl"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dataset"
	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/runcalcs-crawler/internal/merge"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/publisher/memory"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
	memstore "github.com/JakeFAU/runcalcs-crawler/internal/storage/memory"
)

var runDay = time.Date(2027, time.January, 10, 9, 30, 0, 0, time.UTC)

// fakePages replays a fixed page list. Seeds without a page count as failed fetches.
type fakePages struct {
	pages map[string]crawler.Page
}

func (f *fakePages) Pages(_ context.Context, _ string, seeds []string, budget int, stats *crawl.Stats) iter.Seq[crawler.Page] {
	return func(yield func(crawler.Page) bool) {
		for i, seed := range seeds {
			if i >= budget {
				return
			}
			stats.Attempted++
			page, ok := f.pages[seed]
			if !ok {
				stats.Failed++
				continue
			}
			stats.Fetched++
			if !yield(page) {
				return
			}
		}
	}
}

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return "run-" + strings.Repeat("x", c.n), nil
}

type recordingLedger struct {
	results []Result
	err     error
}

func (l *recordingLedger) RecordRun(_ context.Context, r Result) error {
	l.results = append(l.results, r)
	return l.err
}

type failingBlobs struct {
	getErr error
	putErr error
	inner  *memstore.BlobStore
}

func (f *failingBlobs) GetObject(ctx context.Context, path string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inner.GetObject(ctx, path)
}

func (f *failingBlobs) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return f.inner.PutObject(ctx, path, contentType, data)
}

func htmlPage(url, body string) crawler.Page {
	return crawler.Page{SeedURL: url, URL: url, ContentType: "text/html", Body: []byte(body), FetchedAt: runDay}
}

func eventPage(url, name, date, city string) crawler.Page {
	return htmlPage(url, `<html><head><script type="application/ld+json">
	{"@context":"https://schema.org","@type":"Event","name":"`+name+`","startDate":"`+date+`",
	 "location":{"@type":"Place","address":{"addressLocality":"`+city+`","addressCountry":"US"}}}
	</script></head><body></body></html>`)
}

type raceFixture struct {
	engine   *Engine[record.RaceCandidate, record.Race]
	store    *dataset.Store[record.Race]
	blobs    crawler.BlobStore
	ledger   *recordingLedger
	messages *memory.Publisher
}

func newRaceFixture(t *testing.T, blobs crawler.BlobStore, pages map[string]crawler.Page, baseline []BaselineRace) raceFixture {
	t.Helper()
	if blobs == nil {
		blobs = memstore.NewBlobStore()
	}
	store, err := dataset.NewStore[record.Race](blobs, "races.json", "", nil)
	require.NoError(t, err)
	normalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{}, sha256.NewTruncated(16))
	require.NoError(t, err)
	ledger := &recordingLedger{}
	pub := memory.New()
	engine, err := NewRaceEngine(RaceOptions{
		Pages:      &fakePages{pages: pages},
		Dataset:    store,
		Extractor:  extract.NewRaceExtractor(extract.RaceConfig{}, nil),
		Normalizer: normalizer,
		Policy:     dedup.NewRacePolicy(dedup.RaceMatching{}, merge.RaceMerger{}, normalizer),
		Baseline:   baseline,
		Clock:      system.Fixed{At: runDay},
		IDs:        &counterIDs{},
		Reporter:   NewReporter(pub, "runs", ledger, nil),
	})
	require.NoError(t, err)
	return raceFixture{engine: engine, store: store, blobs: blobs, ledger: ledger, messages: pub}
}

func runConfig(seeds ...string) RunConfig {
	return RunConfig{Variant: VariantRaces, Key: "races.json", PageBudget: 10, Seeds: seeds}
}

func TestRaceRunMergesNearDuplicates(t *testing.T) {
	t.Parallel()

	f := newRaceFixture(t, nil, map[string]crawler.Page{
		"https://a.example/spring": eventPage("https://a.example/spring", "City Spring Marathon", "2027-04-12", "Portland"),
		"https://b.example/spring": eventPage("https://b.example/spring", "City Spring Marathn", "2027-04-12", "Portland"),
	}, nil)

	result, err := f.engine.Run(context.Background(), runConfig("https://a.example/spring", "https://b.example/spring"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RecordsWritten)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 2, result.Candidates[string(extract.MethodStructured)])
	assert.Equal(t, 2, result.PagesFetched)
	assert.Equal(t, "memory://races.json", result.Location)

	races, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, races, 1)
	assert.Equal(t, "City Spring Marathon", races[0].Name)
	assert.True(t, runDay.Equal(races[0].LastVerifiedAt))
}

func TestRaceRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newRaceFixture(t, nil, map[string]crawler.Page{
		"https://a.example/spring": eventPage("https://a.example/spring", "City Spring Marathon", "2027-04-12", "Portland"),
		"https://a.example/fall":   eventPage("https://a.example/fall", "Harbor Fall Marathon", "2027-10-03", "Seattle"),
	}, DefaultBaseline())
	cfg := runConfig("https://a.example/spring", "https://a.example/fall")

	_, err := f.engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	first, err := f.store.Load(context.Background())
	require.NoError(t, err)

	second, err := f.engine.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, second.BaselineInjected)
	again, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRaceRunExpiresPastRaces(t *testing.T) {
	t.Parallel()

	blobs := memstore.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "races.json", "application/json", strings.NewReader(`[
	  {"key":"old|2027-01-09|","name":"Old Race","normalized_name":"old race","date_start":"2027-01-09","status":"scheduled"},
	  {"key":"today|2027-01-10|","name":"Today Race","normalized_name":"today race","date_start":"2027-01-10","status":"scheduled"},
	  {"key":"new|2027-01-11|","name":"New Race","normalized_name":"new race","date_start":"2027-01-11","status":"scheduled"}
	]`))
	require.NoError(t, err)
	f := newRaceFixture(t, blobs, nil, nil)

	result, err := f.engine.Run(context.Background(), runConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)

	races, err := f.store.Load(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(races))
	for _, r := range races {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Today Race", "New Race"}, names)
}

func TestRaceRunInjectsBaselineWhenEveryFetchFails(t *testing.T) {
	t.Parallel()

	f := newRaceFixture(t, nil, nil, DefaultBaseline())
	result, err := f.engine.Run(context.Background(), runConfig("https://down.example/a", "https://down.example/b"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.PagesFailed)
	assert.Equal(t, len(DefaultBaseline()), result.BaselineInjected)

	races, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, races, len(DefaultBaseline()))
	for _, b := range DefaultBaseline() {
		assert.True(t, containsRace(races, b.Name), "missing %s", b.Name)
	}
	for _, r := range races {
		assert.Equal(t, record.StatusScheduled, r.Status)
		assert.True(t, r.LastSeenAt.IsZero())
	}
}

func TestRaceRunBaselineNeverClobbersCrawledRace(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://baa.example/boston", `<html><head><script type="application/ld+json">
	{"@type":"Event","name":"Boston Marathon","startDate":"2027-04-19",
	 "description":"Runners must meet a qualifying time standard.",
	 "location":{"address":{"addressLocality":"Boston","addressRegion":"MA","addressCountry":"USA"}}}
	</script></head></html>`)
	f := newRaceFixture(t, nil, map[string]crawler.Page{page.URL: page}, DefaultBaseline())

	result, err := f.engine.Run(context.Background(), runConfig(page.URL))
	require.NoError(t, err)
	assert.Equal(t, len(DefaultBaseline())-1, result.BaselineInjected)

	races, err := f.store.Load(context.Background())
	require.NoError(t, err)
	var boston []record.Race
	for _, r := range races {
		if r.NormalizedName == "boston marathon" {
			boston = append(boston, r)
		}
	}
	require.Len(t, boston, 1)
	assert.Equal(t, "Runners must meet a qualifying time standard.", boston[0].Description)
	assert.Equal(t, "https://baa.example/boston", boston[0].SourceURL)
}

func TestRaceRunCorruptDatasetEqualsEmptyStart(t *testing.T) {
	t.Parallel()

	pages := map[string]crawler.Page{
		"https://a.example/spring": eventPage("https://a.example/spring", "City Spring Marathon", "2027-04-12", "Portland"),
	}
	corrupt := memstore.NewBlobStore()
	_, err := corrupt.PutObject(context.Background(), "races.json", "application/json", strings.NewReader("<html>not json"))
	require.NoError(t, err)

	fromCorrupt := newRaceFixture(t, corrupt, pages, DefaultBaseline())
	fromEmpty := newRaceFixture(t, nil, pages, DefaultBaseline())

	_, err = fromCorrupt.engine.Run(context.Background(), runConfig("https://a.example/spring"))
	require.NoError(t, err)
	_, err = fromEmpty.engine.Run(context.Background(), runConfig("https://a.example/spring"))
	require.NoError(t, err)

	got, err := fromCorrupt.store.Load(context.Background())
	require.NoError(t, err)
	want, err := fromEmpty.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRaceRunFailsOnDatasetReadError(t *testing.T) {
	t.Parallel()

	blobs := &failingBlobs{getErr: errors.New("permission denied"), inner: memstore.NewBlobStore()}
	f := newRaceFixture(t, blobs, nil, DefaultBaseline())

	result, err := f.engine.Run(context.Background(), runConfig())
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "permission denied")
	assert.Zero(t, result.RecordsWritten)

	require.Len(t, f.ledger.results, 1)
	assert.False(t, f.ledger.results[0].Success)
	require.Len(t, f.messages.Messages(), 1)
}

func TestRaceRunFailsOnDatasetWriteError(t *testing.T) {
	t.Parallel()

	blobs := &failingBlobs{putErr: errors.New("bucket gone"), inner: memstore.NewBlobStore()}
	f := newRaceFixture(t, blobs, nil, DefaultBaseline())

	result, err := f.engine.Run(context.Background(), runConfig())
	require.ErrorContains(t, err, "bucket gone")
	assert.False(t, result.Success)
}

func TestRunReportsSuccessAndSurvivesLedgerFailure(t *testing.T) {
	t.Parallel()

	f := newRaceFixture(t, nil, nil, nil)
	f.ledger.err = errors.New("db down")

	result, err := f.engine.Run(context.Background(), runConfig())
	require.NoError(t, err)
	assert.True(t, result.Success)

	msgs := f.messages.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)
	published, ok := msgs[0].Payload.(Result)
	require.True(t, ok)
	assert.Equal(t, result.RunID, published.RunID)
	assert.Equal(t, VariantRaces, published.Variant)
}

func TestEngineCountsDiscardsByReason(t *testing.T) {
	t.Parallel()

	normalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{}, sha256.New())
	require.NoError(t, err)
	store, err := dataset.NewStore[record.Race](memstore.NewBlobStore(), "races.json", "", nil)
	require.NoError(t, err)

	e := &Engine[record.RaceCandidate, record.Race]{
		variant: VariantRaces,
		pages: &fakePages{pages: map[string]crawler.Page{
			"https://a.example/": htmlPage("https://a.example/", "<html></html>"),
		}},
		dataset: store,
		extract: func(crawler.Page) extract.Outcome[record.RaceCandidate] {
			return extract.Outcome[record.RaceCandidate]{
				Method: extract.MethodHeuristic,
				Candidates: []record.RaceCandidate{
					{Name: record.Some("No Date Run")},
					{Name: record.Some("Someday Run"), StartDate: record.Some("someday soon")},
					{StartDate: record.Some("2027-05-01")},
					{Name: record.Some("Good Run"), StartDate: record.Some("2027-05-01")},
				},
			}
		},
		normalize: normalizer.Normalize,
		restore:   normalizer.Restore,
		policy:    dedup.NewRacePolicy(dedup.RaceMatching{}, merge.RaceMerger{}, normalizer),
		finalize:  raceFinalizer(nil, normalizer, newLogger(nil, VariantRaces)),
		clock:     system.Fixed{At: runDay},
		ids:       &counterIDs{},
		logger:    newLogger(nil, VariantRaces),
	}

	result, err := e.Run(context.Background(), runConfig("https://a.example/"))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Candidates[string(extract.MethodHeuristic)])
	assert.Equal(t, map[string]int{
		normalize.ErrMissingDate.Error(): 1,
		normalize.ErrInvalidDate.Error(): 1,
		normalize.ErrMissingName.Error(): 1,
	}, result.Discarded)
	assert.Equal(t, 1, result.RecordsWritten)
}

func TestNewRaceEngineRejectsInvalidBaseline(t *testing.T) {
	t.Parallel()

	normalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{}, sha256.New())
	require.NoError(t, err)
	_, err = NewRaceEngine(RaceOptions{
		Pages:      &fakePages{},
		Dataset:    &dataset.Store[record.Race]{},
		Extractor:  extract.NewRaceExtractor(extract.RaceConfig{}, nil),
		Normalizer: normalizer,
		Policy:     dedup.NewRacePolicy(dedup.RaceMatching{}, merge.RaceMerger{}, normalizer),
		Baseline:   []BaselineRace{{Name: "Dateless Marathon"}},
		Clock:      system.New(),
		IDs:        &counterIDs{},
	})
	require.ErrorContains(t, err, "Dateless Marathon")
}

func TestSortRaces(t *testing.T) {
	t.Parallel()

	races := []record.Race{
		{Key: "b", NormalizedName: "b", DateStart: "2027-05-01"},
		{Key: "a2", NormalizedName: "a", DateStart: "2027-05-01"},
		{Key: "z", NormalizedName: "z", DateStart: "2027-04-01"},
		{Key: "a1", NormalizedName: "a", DateStart: "2027-05-01"},
	}
	SortRaces(races)
	keys := []string{races[0].Key, races[1].Key, races[2].Key, races[3].Key}
	assert.Equal(t, []string{"z", "a1", "a2", "b"}, keys)
}

func containsRace(races []record.Race, name string) bool {
	for _, r := range races {
		if r.Name == name {
			return true
		}
	}
	return false
}

func TestRaceRunRevalidatesPersistedRecords(t *testing.T) {
	t.Parallel()

	blobs := memstore.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "races.json", "application/json", strings.NewReader(`[
	  {"name":"Ghost Run","date_start":"not-a-date","key":"k1"},
	  {"date_start":"2099-01-01"},
	  {"name":"Harbor  Lights Marathon","date_start":"2099-05-02","city":" Portland ","key":"stale","status":"scheduled"}
	]`))
	require.NoError(t, err)
	f := newRaceFixture(t, blobs, nil, nil)

	result, err := f.engine.Run(context.Background(), runConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsWritten)
	assert.Equal(t, map[string]int{
		normalize.ErrInvalidDate.Error(): 1,
		normalize.ErrMissingName.Error(): 1,
	}, result.Discarded)

	races, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, races, 1)
	assert.Equal(t, "Harbor Lights Marathon", races[0].Name)
	assert.Equal(t, "harbor lights marathon|2099-05-02|portland", races[0].Key)
	assert.NotEmpty(t, races[0].ID)
	assert.Equal(t, record.StatusScheduled, races[0].Status)
}

func TestRaceRunWritesToRunKey(t *testing.T) {
	t.Parallel()

	blobs := memstore.NewBlobStore()
	store, err := dataset.NewStore[record.Race](blobs, "races.json", "", nil)
	require.NoError(t, err)
	normalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{}, sha256.NewTruncated(16))
	require.NoError(t, err)
	engine, err := NewRaceEngine(RaceOptions{
		Pages:      &fakePages{},
		Dataset:    store,
		Extractor:  extract.NewRaceExtractor(extract.RaceConfig{}, nil),
		Normalizer: normalizer,
		Policy:     dedup.NewRacePolicy(dedup.RaceMatching{}, merge.RaceMerger{}, normalizer),
		Clock:      system.Fixed{At: runDay},
		IDs:        &counterIDs{},
		Open: func(key string) (Dataset[record.Race], error) {
			s, err := dataset.NewStore[record.Race](blobs, key, "", nil)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Baseline: []BaselineRace{{Name: "Harbor Lights Marathon", Date: "2027-05-02", City: "Portland"}},
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), RunConfig{Variant: VariantRaces, Key: "elsewhere/races.json", PageBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, "memory://elsewhere/races.json", result.Location)

	_, err = blobs.GetObject(context.Background(), "elsewhere/races.json")
	require.NoError(t, err)
	_, err = blobs.GetObject(context.Background(), "races.json")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}

func TestRaceRunRejectsUnboundKey(t *testing.T) {
	t.Parallel()

	f := newRaceFixture(t, nil, nil, nil)
	result, err := f.engine.Run(context.Background(), RunConfig{Variant: VariantRaces, Key: "elsewhere/races.json", PageBudget: 1})
	require.ErrorContains(t, err, `dataset key "elsewhere/races.json" differs from bound key "races.json"`)
	assert.False(t, result.Success)

	_, err = f.blobs.GetObject(context.Background(), "races.json")
	require.ErrorIs(t, err, crawler.ErrObjectNotFound)
}

func TestScheduleOccurrences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		schedule string
		year     int
		want     string
	}{
		{"first sunday of november", 2026, "2026-11-01"},
		{"first sunday of november", 2027, "2027-11-07"},
		{"third monday of april", 2027, "2027-04-19"},
		{"last sunday of april", 2027, "2027-04-25"},
		{"last sunday of september", 2026, "2026-09-27"},
		{"second sunday of october", 2026, "2026-10-11"},
		{"First Sunday of March", 2027, "2027-03-07"},
	}
	for _, tc := range cases {
		s, err := parseSchedule(tc.schedule)
		require.NoError(t, err, tc.schedule)
		assert.Equal(t, tc.want, s.in(tc.year).Format(normalize.DateLayout), "%s in %d", tc.schedule, tc.year)
	}

	for _, bad := range []string{"fifth sunday of may", "first funday of may", "first sunday in may", "first sunday of smarch", ""} {
		_, err := parseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestBaselineDateRollsToNextOccurrence(t *testing.T) {
	t.Parallel()

	nyc := BaselineRace{Name: "New York City Marathon", Schedule: "first sunday of november"}
	onDay, err := nyc.dateOn("2026-11-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-11-01", onDay)
	dayAfter, err := nyc.dateOn("2026-11-02")
	require.NoError(t, err)
	assert.Equal(t, "2027-11-07", dayAfter)

	fixed := BaselineRace{Name: "Harbor Lights Marathon", Date: "2027-05-02"}
	date, err := fixed.dateOn("2030-01-01")
	require.NoError(t, err)
	assert.Equal(t, "2027-05-02", date)
}

func TestDefaultBaselineNeverExpires(t *testing.T) {
	t.Parallel()

	normalizer, err := normalize.NewRaceNormalizer(normalize.RaceConfig{}, sha256.NewTruncated(16))
	require.NoError(t, err)
	baseline := append(DefaultBaseline(), BaselineRace{Name: "Harbor Lights Marathon", Date: "2027-05-02", City: "Portland"})
	finalize := raceFinalizer(baseline, normalizer, newLogger(nil, VariantRaces))

	for _, now := range []time.Time{
		time.Date(2031, time.June, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2040, time.December, 31, 12, 0, 0, 0, time.UTC),
	} {
		ix := dedup.NewIndex[record.Race](dedup.NewRacePolicy(dedup.RaceMatching{}, merge.RaceMerger{}, normalizer))
		result := Result{}
		races := finalize(ix, now, &result)
		require.Len(t, races, len(DefaultBaseline()))
		assert.Equal(t, 1, result.Expired, "only the fixed-date entry expires")
		for _, b := range DefaultBaseline() {
			assert.True(t, containsRace(races, b.Name), "missing %s", b.Name)
		}
		for _, r := range races {
			assert.GreaterOrEqual(t, r.DateStart, now.Format(normalize.DateLayout))
		}
	}
}

func TestBaselineRaceValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, BaselineRace{Name: "A", Date: "2027-01-01"}.Validate())
	require.NoError(t, BaselineRace{Name: "A", Schedule: "last sunday of may"}.Validate())
	require.ErrorContains(t, BaselineRace{Date: "2027-01-01"}.Validate(), "requires a name")
	require.ErrorContains(t, BaselineRace{Name: "A"}.Validate(), "date or a schedule")
	require.ErrorContains(t, BaselineRace{Name: "A", Date: "2027-01-01", Schedule: "last sunday of may"}.Validate(), "both")
	require.ErrorContains(t, BaselineRace{Name: "A", Schedule: "someday"}.Validate(), "schedule")
}
