package place

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	generativeAI "github.com/FACorreiaa/go-trip-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/go-trip-planner/internal/api/store"
	"github.com/FACorreiaa/go-trip-planner/internal/background"
	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

const (
	DefaultMaxSubItems = 10
	DefaultLockTTL     = 5 * time.Minute
)

var ErrPlaceNotFound = errors.New("place not found by provider")

// administrative place types; anything else is an attraction
var cityTypes = map[string]struct{}{
	"locality":                    {},
	"administrative_area_level_1": {},
	"administrative_area_level_2": {},
	"administrative_area_level_3": {},
	"country":                     {},
	"colloquial_area":             {},
	"postal_town":                 {},
	"sublocality":                 {},
}

// Classify returns city when the provider types intersect the administrative vocabulary.
func Classify(placeTypes []string) types.PlaceType {
	for _, t := range placeTypes {
		if _, ok := cityTypes[t]; ok {
			return types.PlaceCity
		}
	}
	return types.PlaceAttraction
}

type Cache interface {
	GetPlace(ctx context.Context, name string) (*types.ShortlistItem, bool)
	SetPlace(ctx context.Context, item *types.ShortlistItem) error
	AcquireLock(name string, ttl time.Duration) bool
	ReleaseLock(name string)
}

type Store interface {
	GetPlace(ctx context.Context, name string) (*types.ShortlistItem, error)
	SavePlace(ctx context.Context, item *types.ShortlistItem) error
}

type Runner interface {
	Go(name string, fn background.Task) error
}

type Options struct {
	MaxSubItems int
	LockTTL     time.Duration
}

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	// Resolve looks a place up in the cache, then the durable store, then the provider.
	// description and reason are stored on the item when it has none.
	Resolve(ctx context.Context, name, description, reason string) (*types.ShortlistItem, error)
	// Enrich adds AI-derived detail to a place. It is a no-op when another enrichment holds the lock.
	Enrich(ctx context.Context, name string) error
	ResolveSubItems(ctx context.Context, item *types.ShortlistItem) ([]types.ShortlistItem, error)
}

type ServiceImpl struct {
	logger   *slog.Logger
	cache    Cache
	store    Store
	provider Provider
	lang     generativeAI.LanguageService
	runner   Runner
	opts     Options
	metrics  *metrics.AppMetrics

	group singleflight.Group
	now   func() time.Time
}

func NewService(c Cache, st Store, provider Provider, lang generativeAI.LanguageService, runner Runner, opts Options, logger *slog.Logger) *ServiceImpl {
	if opts.MaxSubItems <= 0 {
		opts.MaxSubItems = DefaultMaxSubItems
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &ServiceImpl{
		logger:   logger,
		cache:    c,
		store:    st,
		provider: provider,
		lang:     lang,
		runner:   runner,
		opts:     opts,
		metrics:  metrics.Get(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ServiceImpl) Resolve(ctx context.Context, name, description, reason string) (*types.ShortlistItem, error) {
	return s.resolve(ctx, resolveRequest{name: name, description: description, reason: reason})
}

type resolveRequest struct {
	name        string
	description string
	reason      string
	city        string
}

func (s *ServiceImpl) resolve(ctx context.Context, req resolveRequest) (*types.ShortlistItem, error) {
	ctx, span := otel.Tracer("PlaceService").Start(ctx, "Resolve", trace.WithAttributes(
		attribute.String("place.name", req.name),
	))
	defer span.End()

	if item, ok := s.cache.GetPlace(ctx, req.name); ok {
		span.SetAttributes(attribute.String("place.tier", "cache"))
		if applyHints(item, req) {
			s.writeCache(ctx, item)
		}
		return item, nil
	}

	v, err, shared := s.group.Do("resolve:"+req.name, func() (any, error) {
		return s.resolveSlow(ctx, req)
	})
	span.SetAttributes(attribute.Bool("place.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	item := *v.(*types.ShortlistItem)
	return &item, nil
}

func (s *ServiceImpl) resolveSlow(ctx context.Context, req resolveRequest) (*types.ShortlistItem, error) {
	// a previous flight may have filled the cache after our first lookup
	if item, ok := s.cache.GetPlace(ctx, req.name); ok {
		return item, nil
	}

	item, err := s.store.GetPlace(ctx, req.name)
	switch {
	case err == nil:
		applyHints(item, req)
		s.writeCache(ctx, item)
		if s.needsEnrichment(item) {
			s.scheduleEnrich(ctx, item.Name)
		}
		return item, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		s.logger.WarnContext(ctx, "Durable place lookup failed, asking provider",
			slog.String("place", req.name), slog.Any("error", err))
	}

	candidate, err := s.provider.Find(ctx, req.name)
	if err != nil {
		return nil, fmt.Errorf("failed to find place: %w", err)
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlaceNotFound, req.name)
	}
	detail, err := s.provider.Detail(ctx, candidate.PlaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch place detail: %w", err)
	}

	item = fromDetail(req, detail)
	s.writeCache(ctx, item)
	snapshot := *item
	// the pending row must land before enrichment can write the ready one
	if err := s.runner.Go("place.enrich", func(ctx context.Context) error {
		if err := s.store.SavePlace(ctx, &snapshot); err != nil {
			s.logger.WarnContext(ctx, "Failed to persist pending place", slog.String("place", snapshot.Name), slog.Any("error", err))
		}
		return s.Enrich(ctx, snapshot.Name)
	}); err != nil {
		s.logger.WarnContext(ctx, "Enrichment not scheduled", slog.String("place", item.Name), slog.Any("error", err))
	}
	return item, nil
}

func fromDetail(req resolveRequest, d *types.PlaceDetail) *types.ShortlistItem {
	item := &types.ShortlistItem{
		Name:        req.name,
		PlaceID:     d.PlaceID,
		Type:        Classify(d.Types),
		City:        req.city,
		Description: req.description,
		Geometry:    d.Geometry,
		Status:      types.PlaceStatusPending,
		Info: &types.PlaceInfo{
			RecommendReason: req.reason,
			Website:         d.Website,
			Address:         d.Address,
			WeekdayText:     d.WeekdayText,
			Rating:          d.Rating,
			TotalRatings:    d.TotalRatings,
			PriceLevel:      d.PriceLevel,
			Photos:          d.Photos,
		},
	}
	if item.Description == "" {
		item.Description = d.Summary
	}
	return item
}

// applyHints fills empty description, reason and city fields and reports whether anything changed.
func applyHints(item *types.ShortlistItem, req resolveRequest) bool {
	changed := false
	if item.Description == "" && req.description != "" {
		item.Description = req.description
		changed = true
	}
	if req.reason != "" {
		if item.Info == nil {
			item.Info = &types.PlaceInfo{}
		}
		if item.Info.RecommendReason == "" {
			item.Info.RecommendReason = req.reason
			changed = true
		}
	}
	if item.City == "" && req.city != "" {
		item.City = req.city
		changed = true
	}
	return changed
}

func (s *ServiceImpl) writeCache(ctx context.Context, item *types.ShortlistItem) {
	if err := s.cache.SetPlace(ctx, item); err != nil {
		s.logger.WarnContext(ctx, "Failed to cache place", slog.String("place", item.Name), slog.Any("error", err))
	}
}

func (s *ServiceImpl) scheduleEnrich(ctx context.Context, name string) {
	if err := s.runner.Go("place.enrich", func(ctx context.Context) error {
		return s.Enrich(ctx, name)
	}); err != nil {
		s.logger.WarnContext(ctx, "Enrichment not scheduled", slog.String("place", name), slog.Any("error", err))
	}
}

func (s *ServiceImpl) needsEnrichment(item *types.ShortlistItem) bool {
	now := s.now()
	if item.Status != types.PlaceStatusReady || !item.IsFresh(now) {
		return true
	}
	if item.Type == types.PlaceCity {
		return len(item.SubItems) == 0
	}
	return item.NeedsAdvice(now)
}

func (s *ServiceImpl) Enrich(ctx context.Context, name string) error {
	_, err, _ := s.group.Do("enrich:"+name, func() (any, error) {
		if !s.cache.AcquireLock(name, s.opts.LockTTL) {
			s.logger.DebugContext(ctx, "Enrichment already running elsewhere", slog.String("place", name))
			s.metrics.Enrichment(ctx, "", "locked")
			return nil, nil
		}
		defer s.cache.ReleaseLock(name)
		return nil, s.enrich(ctx, name)
	})
	return err
}

func (s *ServiceImpl) enrich(ctx context.Context, name string) (err error) {
	ctx, span := otel.Tracer("PlaceService").Start(ctx, "Enrich", trace.WithAttributes(
		attribute.String("place.name", name),
	))
	defer span.End()

	item, ok := s.cache.GetPlace(ctx, name)
	if !ok {
		item, err = s.store.GetPlace(ctx, name)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to load place for enrichment: %w", err)
		}
	}
	span.SetAttributes(attribute.String("place.type", string(item.Type)))
	if !s.needsEnrichment(item) {
		s.metrics.Enrichment(ctx, string(item.Type), "fresh")
		return nil
	}

	item.Status = types.PlaceStatusProcessing
	s.writeCache(ctx, item)

	defer func() {
		outcome := "ready"
		if err != nil {
			outcome = "error"
			item.Status = types.PlaceStatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, "enrichment failed")
		} else {
			now := s.now()
			item.Status = types.PlaceStatusReady
			item.UpdatedTime = &now
		}
		s.writeCache(ctx, item)
		if serr := s.store.SavePlace(ctx, item); serr != nil {
			s.logger.ErrorContext(ctx, "Failed to persist enriched place", slog.String("place", name), slog.Any("error", serr))
		}
		s.metrics.Enrichment(ctx, string(item.Type), outcome)
	}()

	if item.Type == types.PlaceCity {
		return s.enrichCity(ctx, item)
	}
	return s.enrichAttraction(ctx, item)
}

type subAttraction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// enrichCity records up to MaxSubItems attraction names. Each one is resolved so it exists in the place cache.
func (s *ServiceImpl) enrichCity(ctx context.Context, item *types.ShortlistItem) error {
	if len(item.SubItems) > 0 {
		return nil
	}
	raw, err := s.lang.Generate(ctx, types.PromptSubAttractions, map[string]any{
		"city":  item.Name,
		"count": s.opts.MaxSubItems,
	})
	if err != nil {
		return err
	}
	var out struct {
		Attractions []subAttraction `json:"attractions"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		return err
	}

	var names []string
	for _, a := range out.Attractions {
		if len(names) == s.opts.MaxSubItems {
			break
		}
		if a.Name == "" || a.Name == item.Name {
			continue
		}
		sub, err := s.resolve(ctx, resolveRequest{name: a.Name, description: a.Description, reason: a.Reason, city: item.Name})
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping unresolvable sub attraction",
				slog.String("city", item.Name), slog.String("place", a.Name), slog.Any("error", err))
			continue
		}
		names = types.UnionStrings(names, []string{sub.Name})
	}
	item.SubItems = names
	return nil
}

func (s *ServiceImpl) enrichAttraction(ctx context.Context, item *types.ShortlistItem) error {
	if !item.NeedsAdvice(s.now()) {
		return nil
	}
	inputs := map[string]any{"place": item.Name}
	if item.City != "" {
		inputs["city"] = item.City
	}
	if item.Info != nil && item.Info.Address != "" {
		inputs["address"] = item.Info.Address
	}
	raw, err := s.lang.Generate(ctx, types.PromptPlaceAdvice, inputs)
	if err != nil {
		return err
	}
	var out struct {
		Pros   []string `json:"pros"`
		Cons   []string `json:"cons"`
		Advice string   `json:"advice"`
	}
	if err := generativeAI.DecodeJSON(raw, &out); err != nil {
		return err
	}

	if item.Info == nil {
		item.Info = &types.PlaceInfo{}
	}
	now := s.now()
	item.Info.Pros = out.Pros
	item.Info.Cons = out.Cons
	item.Info.AdviceTrip = out.Advice
	item.Info.ReviewUpdated = &now
	return nil
}

// ResolveSubItems returns the items a city references by name. Unresolvable names are skipped.
func (s *ServiceImpl) ResolveSubItems(ctx context.Context, item *types.ShortlistItem) ([]types.ShortlistItem, error) {
	out := make([]types.ShortlistItem, 0, len(item.SubItems))
	for _, name := range item.SubItems {
		sub, err := s.resolve(ctx, resolveRequest{name: name, city: item.Name})
		if err != nil {
			s.logger.WarnContext(ctx, "Sub item unavailable", slog.String("city", item.Name), slog.String("place", name), slog.Any("error", err))
			continue
		}
		out = append(out, *sub)
	}
	return out, nil
}
