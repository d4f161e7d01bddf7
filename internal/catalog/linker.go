package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/royaltyledger/internal/cache"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Link holds the catalog entities an event could be matched to. Any field
// may be nil.
type Link struct {
	TrackID   *uuid.UUID
	ReleaseID *uuid.UUID
	ArtistID  *uuid.UUID
}

func (l Link) Empty() bool {
	return l.TrackID == nil && l.ReleaseID == nil && l.ArtistID == nil
}

type Query struct {
	ISRC          string
	CatalogNumber string
	Artist        string
}

// Linker matches statement identifiers against the label catalog. Linking
// is best effort: a miss or a lookup failure yields an empty Link.
type Linker interface {
	Link(ctx context.Context, q Query) Link
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

// NewLinker reads the catalog tables when they exist in the connected
// database and links nothing otherwise.
func NewLinker(p Params) Linker {
	log := p.Log.Named("catalog")
	m := p.DB.Migrator()
	if !m.HasTable(&Track{}) || !m.HasTable(&Release{}) || !m.HasTable(&Artist{}) {
		log.Info("catalog tables not present, events will not be linked")
		return noopLinker{}
	}
	return &dbLinker{
		db:    p.DB,
		log:   log,
		cache: cache.NewTTLCache[Query, Link](),
	}
}

type noopLinker struct{}

func (noopLinker) Link(context.Context, Query) Link { return Link{} }

type dbLinker struct {
	db    *gorm.DB
	log   *zap.Logger
	cache cache.Cache[Query, Link]
}

func (l *dbLinker) Link(ctx context.Context, q Query) Link {
	q = Query{
		ISRC:          normalizeISRC(q.ISRC),
		CatalogNumber: strings.TrimSpace(q.CatalogNumber),
		Artist:        strings.TrimSpace(q.Artist),
	}
	if link, ok := l.cache.Get(q); ok {
		return link
	}

	link, err := l.resolve(ctx, q)
	if err != nil {
		l.log.Warn("catalog lookup failed", zap.String("isrc", q.ISRC), zap.Error(err))
		return Link{}
	}
	l.cache.Set(q, link, 0)
	return link
}

func (l *dbLinker) resolve(ctx context.Context, q Query) (Link, error) {
	db := l.db.WithContext(ctx)

	if q.ISRC != "" {
		var track Track
		err := db.Where("UPPER(REPLACE(isrc, '-', '')) = ?", q.ISRC).Take(&track).Error
		switch {
		case err == nil:
			return Link{
				TrackID:   parseID(track.ID),
				ReleaseID: parseID(track.ReleaseID),
				ArtistID:  parseID(track.ArtistID),
			}, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Link{}, err
		}
	}

	var link Link
	if q.CatalogNumber != "" {
		var release Release
		err := db.Where("UPPER(catalog_number) = ?", strings.ToUpper(q.CatalogNumber)).Take(&release).Error
		switch {
		case err == nil:
			link.ReleaseID = parseID(release.ID)
			if release.MainArtistID != nil {
				link.ArtistID = parseID(*release.MainArtistID)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Link{}, err
		}
	}

	if link.ArtistID == nil && q.Artist != "" {
		var artist Artist
		name := strings.ToLower(q.Artist)
		err := db.Where("LOWER(project) = ? OR LOWER(name) = ?", name, name).Take(&artist).Error
		switch {
		case err == nil:
			link.ArtistID = parseID(artist.ID)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Link{}, err
		}
	}
	return link, nil
}

func parseID(raw string) *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &id
}

func normalizeISRC(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", ""))
}
