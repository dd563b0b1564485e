package types

import "time"

// PlaceFreshness is how long enriched place data is trusted before a refresh.
const PlaceFreshness = 30 * 24 * time.Hour

type PlaceType string

const (
	PlaceCity       PlaceType = "city"
	PlaceAttraction PlaceType = "attraction"
)

type PlaceStatus string

const (
	PlaceStatusPending    PlaceStatus = "pending"
	PlaceStatusProcessing PlaceStatus = "processing"
	PlaceStatusReady      PlaceStatus = "ready"
	PlaceStatusError      PlaceStatus = "error"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PlaceGeo struct {
	Location  LatLng  `json:"location"`
	Northeast *LatLng `json:"northeast,omitempty"`
	Southwest *LatLng `json:"southwest,omitempty"`
}

type PlacePhoto struct {
	Reference        string   `json:"photo_reference"`
	Height           int      `json:"height"`
	Width            int      `json:"width"`
	HTMLAttributions []string `json:"html_attributions,omitempty"`
}

type PlaceInfo struct {
	RecommendReason string       `json:"recommend_reason,omitempty"`
	Website         string       `json:"website,omitempty"`
	Address         string       `json:"address,omitempty"`
	WeekdayText     []string     `json:"weekday_text,omitempty"`
	Rating          float64      `json:"rating,omitempty"`
	TotalRatings    int          `json:"total_ratings,omitempty"`
	PriceLevel      int          `json:"price_level,omitempty"`
	Photos          []PlacePhoto `json:"photos,omitempty"`
	Pros            []string     `json:"pros,omitempty"`
	Cons            []string     `json:"cons,omitempty"`
	AdviceTrip      string       `json:"advice_trip,omitempty"`
	ReviewUpdated   *time.Time   `json:"review_updated,omitempty"`
}

// ShortlistItem is a resolved city or attraction. SubItems holds place names of a city's
// recommended attractions, resolved through the place cache on demand.
type ShortlistItem struct {
	Name        string      `json:"name"`
	PlaceID     string      `json:"place_id"`
	Type        PlaceType   `json:"type"`
	City        string      `json:"city,omitempty"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Info        *PlaceInfo  `json:"info,omitempty"`
	SubItems    []string    `json:"sub_items,omitempty"`
	Geometry    *PlaceGeo   `json:"geometry,omitempty"`
	Status      PlaceStatus `json:"status"`
	UpdatedTime *time.Time  `json:"updated_time,omitempty"`
}

// IsFresh reports whether the item was refreshed within PlaceFreshness of now.
func (p *ShortlistItem) IsFresh(now time.Time) bool {
	return p.UpdatedTime != nil && now.Sub(*p.UpdatedTime) < PlaceFreshness
}

// NeedsAdvice reports whether AI-derived pros/cons/advice are missing or stale.
func (p *ShortlistItem) NeedsAdvice(now time.Time) bool {
	if p.Info == nil || (len(p.Info.Pros) == 0 && len(p.Info.Cons) == 0 && p.Info.AdviceTrip == "") {
		return true
	}
	if p.Info.ReviewUpdated == nil {
		return true
	}
	return now.Sub(*p.Info.ReviewUpdated) >= PlaceFreshness
}

// PlaceCandidate is a provider search hit.
type PlaceCandidate struct {
	PlaceID string
	Name    string
}

// PlaceDetail is the provider's structured record for one place.
type PlaceDetail struct {
	PlaceID      string
	Name         string
	Types        []string
	Address      string
	Website      string
	Rating       float64
	TotalRatings int
	PriceLevel   int
	WeekdayText  []string
	Photos       []PlacePhoto
	Geometry     *PlaceGeo
	Summary      string
}
