package clustering

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances
const earthRadiusKm = 6371.0088

// Point is a WGS84 coordinate in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the haversine great-circle distance between a and b
func DistanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// centroid is the arithmetic mean of the given points
func centroid(points []Point) Point {
	var c Point
	if len(points) == 0 {
		return c
	}
	for _, p := range points {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(points))
	c.Lat /= n
	c.Lng /= n
	return c
}
