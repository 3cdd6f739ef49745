// Package geo 위치 좌표 검증과 구면 거리 계산
package geo

import (
	"fmt"
	"math"

	"github.com/damoang/angple-groupbuy/internal/common"
)

// EarthRadiusMeters 평균 지구 반지름
const EarthRadiusMeters = 6371008.8

// Point [longitude, latitude] 좌표
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Validate 좌표 범위 검증 (보정하지 않고 거부)
func (p Point) Validate() error {
	if math.IsNaN(p.Longitude) || math.IsNaN(p.Latitude) ||
		math.IsInf(p.Longitude, 0) || math.IsInf(p.Latitude, 0) {
		return fmt.Errorf("%w: not a number", common.ErrInvalidCoordinates)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of [-180,180]", common.ErrInvalidCoordinates, p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of [-90,90]", common.ErrInvalidCoordinates, p.Latitude)
	}
	return nil
}

// Pair GeoJSON 순서의 [lon, lat]
func (p Point) Pair() [2]float64 {
	return [2]float64{p.Longitude, p.Latitude}
}

// Distance 두 지점 사이의 대원 거리(m), haversine
func Distance(a, b Point) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box 위경도 사각 범위. 날짜변경선을 넘으면 MinLon > MaxLon
type Box struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// CrossesAntimeridian 경도 180도 경계를 넘는지
func (b Box) CrossesAntimeridian() bool {
	return b.MinLon > b.MaxLon
}

// Contains 점이 범위 안에 있는지
func (b Box) Contains(p Point) bool {
	if p.Latitude < b.MinLat || p.Latitude > b.MaxLat {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Longitude >= b.MinLon || p.Longitude <= b.MaxLon
	}
	return p.Longitude >= b.MinLon && p.Longitude <= b.MaxLon
}

// BoundingBox 중심에서 반경 radius(m)를 포함하는 최소 사각 범위.
// 극지방을 포함하면 경도 전체를 반환
func BoundingBox(center Point, radius float64) Box {
	angular := radius / EarthRadiusMeters
	lat := toRad(center.Latitude)
	lon := toRad(center.Longitude)

	minLat := lat - angular
	maxLat := lat + angular

	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return Box{
			MinLon: -180, MaxLon: 180,
			MinLat: math.Max(toDeg(minLat), -90),
			MaxLat: math.Min(toDeg(maxLat), 90),
		}
	}

	dLon := math.Asin(math.Sin(angular) / math.Cos(lat))
	minLon := normalizeLon(toDeg(lon - dLon))
	maxLon := normalizeLon(toDeg(lon + dLon))

	return Box{
		MinLon: minLon, MaxLon: maxLon,
		MinLat: toDeg(minLat), MaxLat: toDeg(maxLat),
	}
}

func normalizeLon(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
