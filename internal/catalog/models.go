package catalog

// The catalog is owned by the label management application. These models
// only describe the columns read here; nothing in this module writes them.

type Artist struct {
	ID      string `gorm:"column:id;primaryKey"`
	Name    string `gorm:"column:name"`
	Project string `gorm:"column:project"`
}

func (Artist) TableName() string { return "catalog_artists" }

type Release struct {
	ID            string  `gorm:"column:id;primaryKey"`
	Title         string  `gorm:"column:title"`
	CatalogNumber string  `gorm:"column:catalog_number"`
	MainArtistID  *string `gorm:"column:main_artist_id"`
}

func (Release) TableName() string { return "catalog_releases" }

type Track struct {
	ID        string `gorm:"column:id;primaryKey"`
	Title     string `gorm:"column:title"`
	ISRC      string `gorm:"column:isrc"`
	ReleaseID string `gorm:"column:release_id"`
	ArtistID  string `gorm:"column:artist_id"`
}

func (Track) TableName() string { return "catalog_tracks" }
