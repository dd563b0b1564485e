package place

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// Provider is the external geodata source. Find returns nil without error when nothing matches.
type Provider interface {
	Find(ctx context.Context, name string) (*types.PlaceCandidate, error)
	Detail(ctx context.Context, placeID string) (*types.PlaceDetail, error)
}

var _ Provider = (*MapsProvider)(nil)

// MapsProvider adapts the Google Maps Places API.
type MapsProvider struct {
	client   *maps.Client
	language string
}

func NewMapsProvider(client *maps.Client, language string) *MapsProvider {
	return &MapsProvider{client: client, language: language}
}

func (p *MapsProvider) Find(ctx context.Context, name string) (*types.PlaceCandidate, error) {
	resp, err := p.client.FindPlaceFromText(ctx, &maps.FindPlaceFromTextRequest{
		Input:     name,
		InputType: maps.FindPlaceFromTextInputTypeTextQuery,
		Fields:    []maps.PlaceSearchFieldMask{maps.PlaceSearchFieldMaskPlaceID, maps.PlaceSearchFieldMaskName},
		Language:  p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("find place %q: %w", name, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	c := resp.Candidates[0]
	return &types.PlaceCandidate{PlaceID: c.PlaceID, Name: c.Name}, nil
}

func (p *MapsProvider) Detail(ctx context.Context, placeID string) (*types.PlaceDetail, error) {
	r, err := p.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{PlaceID: placeID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("place details %s: %w", placeID, err)
	}

	d := &types.PlaceDetail{
		PlaceID:      r.PlaceID,
		Name:         r.Name,
		Types:        r.Types,
		Address:      r.FormattedAddress,
		Website:      r.Website,
		Rating:       float64(r.Rating),
		TotalRatings: r.UserRatingsTotal,
		PriceLevel:   r.PriceLevel,
		Geometry: &types.PlaceGeo{
			Location:  types.LatLng{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
			Northeast: &types.LatLng{Lat: r.Geometry.Viewport.NorthEast.Lat, Lng: r.Geometry.Viewport.NorthEast.Lng},
			Southwest: &types.LatLng{Lat: r.Geometry.Viewport.SouthWest.Lat, Lng: r.Geometry.Viewport.SouthWest.Lng},
		},
	}
	if r.OpeningHours != nil {
		d.WeekdayText = r.OpeningHours.WeekdayText
	}
	for _, ph := range r.Photos {
		d.Photos = append(d.Photos, types.PlacePhoto{
			Reference:        ph.PhotoReference,
			Height:           ph.Height,
			Width:            ph.Width,
			HTMLAttributions: ph.HTMLAttributions,
		})
	}
	return d, nil
}
