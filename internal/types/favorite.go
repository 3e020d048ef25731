package types

// Favorite is a saved, named location. Favorites are addressed by their
// position in the list.
type Favorite struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

func (f Favorite) Coordinate() Coordinate {
	return Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}
