package models

import "fmt"

// Tag is an interest keyword shared by accounts and studies
type Tag struct {
	ID    string `json:"id" db:"id"`
	Title string `json:"title" db:"title"`
}

// Zone is a geographic area shared by accounts and studies
type Zone struct {
	ID              string `json:"id" db:"id"`
	City            string `json:"city" db:"city"`
	LocalNameOfCity string `json:"localNameOfCity" db:"local_name_of_city"`
	Province        string `json:"province,omitempty" db:"province"`
}

// String renders the zone the way it is shown and parsed: "City(Local)/Province"
func (z Zone) String() string {
	return fmt.Sprintf("%s(%s)/%s", z.City, z.LocalNameOfCity, z.Province)
}

func tagIDs(tags []Tag) []string {
	ids := make([]string, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

func zoneIDs(zones []Zone) []string {
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return ids
}

// ContainsTag reports whether tags has a tag with the given id
func ContainsTag(tags []Tag, id string) bool {
	for _, t := range tags {
		if t.ID == id {
			return true
		}
	}
	return false
}

// ContainsZone reports whether zones has a zone with the given id
func ContainsZone(zones []Zone, id string) bool {
	for _, z := range zones {
		if z.ID == id {
			return true
		}
	}
	return false
}
