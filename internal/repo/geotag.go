// Package repo implements persistence for geotags against MongoDB.
// It owns the translation between domain queries and bson filters and the
// mapping of driver errors onto the domain sentinels. No business rules
// live here: the service layer decides what to write, the repo decides how.
package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nbno/geotag-api/internal/domain"
)

// CollectionName is the MongoDB collection geotags are stored in.
const CollectionName = "geotags"

// GeoTagRepo defines the persistence operations for geotags.
// Implementations must map "document missing" onto domain.ErrNotFound and
// lost optimistic writes onto domain.ErrConflict.
type GeoTagRepo interface {
	// FindByURN retrieves the single geotag for a URN.
	FindByURN(ctx context.Context, urn string) (domain.GeoTag, error)

	// FindByID retrieves a geotag by its aggregate id.
	FindByID(ctx context.Context, id string) (domain.GeoTag, error)

	// Insert stores a brand-new geotag. A concurrent create for the same
	// URN loses against the unique urn index and returns domain.ErrConflict.
	Insert(ctx context.Context, tag domain.GeoTag) error

	// Update replaces an existing geotag, conditional on the version the
	// caller read. Returns the stored geotag with its bumped version,
	// domain.ErrConflict if an interleaved write bumped it first, or
	// domain.ErrNotFound if the geotag is gone.
	Update(ctx context.Context, tag domain.GeoTag) (domain.GeoTag, error)

	// Delete removes a geotag by id. Returns domain.ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// FindAll returns one page of geotags matching the query, ordered by
	// current position date descending, plus the total match count.
	FindAll(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams) ([]domain.GeoTag, int64, error)

	// FindNear returns geotags whose current position lies within radiusKm
	// of pt, nearest first.
	FindNear(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams) ([]domain.GeoTag, int64, error)

	// FindWithin returns geotags whose current position lies inside the box.
	FindWithin(ctx context.Context, box domain.Box, page domain.PaginationParams) ([]domain.GeoTag, int64, error)

	// EnsureIndexes creates the indexes the queries above rely on.
	// Safe to call on every startup; existing indexes are left alone.
	EnsureIndexes(ctx context.Context) error
}

// mongoGeoTagRepo is the MongoDB implementation of GeoTagRepo.
type mongoGeoTagRepo struct {
	coll *mongo.Collection
}

// NewGeoTagRepo constructs a GeoTagRepo backed by the geotags collection of
// the provided database.
func NewGeoTagRepo(db *mongo.Database) GeoTagRepo {
	return &mongoGeoTagRepo{coll: db.Collection(CollectionName)}
}

// sortByDateDesc orders results by the current position's submission time,
// newest first.
var sortByDateDesc = bson.D{{Key: "currentPosition.date", Value: -1}}

func (r *mongoGeoTagRepo) FindByURN(ctx context.Context, urn string) (domain.GeoTag, error) {
	return r.findOne(ctx, bson.D{{Key: "urn", Value: urn}})
}

func (r *mongoGeoTagRepo) FindByID(ctx context.Context, id string) (domain.GeoTag, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *mongoGeoTagRepo) findOne(ctx context.Context, filter bson.D) (domain.GeoTag, error) {
	var tag domain.GeoTag
	err := r.coll.FindOne(ctx, filter).Decode(&tag)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.GeoTag{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("repo.GeoTagRepo.findOne: %w", err)
	}
	return tag, nil
}

func (r *mongoGeoTagRepo) Insert(ctx context.Context, tag domain.GeoTag) error {
	if _, err := r.coll.InsertOne(ctx, tag); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Another writer created the geotag for this URN (or id) first.
			return fmt.Errorf("repo.GeoTagRepo.Insert: %w", domain.ErrConflict)
		}
		return fmt.Errorf("repo.GeoTagRepo.Insert: %w", err)
	}
	return nil
}

func (r *mongoGeoTagRepo) Update(ctx context.Context, tag domain.GeoTag) (domain.GeoTag, error) {
	next := tag
	next.Version = tag.Version + 1

	// Conditional replace: matches only if nobody has bumped the version
	// since the caller read the document.
	filter := bson.D{
		{Key: "_id", Value: tag.ID},
		{Key: "version", Value: tag.Version},
	}
	res, err := r.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return domain.GeoTag{}, fmt.Errorf("repo.GeoTagRepo.Update: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a lost race from a deleted document.
		if _, err := r.FindByID(ctx, tag.ID); errors.Is(err, domain.ErrNotFound) {
			return domain.GeoTag{}, fmt.Errorf("repo.GeoTagRepo.Update: %w", domain.ErrNotFound)
		}
		return domain.GeoTag{}, fmt.Errorf("repo.GeoTagRepo.Update: %w", domain.ErrConflict)
	}
	return next, nil
}

func (r *mongoGeoTagRepo) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("repo.GeoTagRepo.Delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("repo.GeoTagRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *mongoGeoTagRepo) FindAll(ctx context.Context, q domain.GeoQuery, page domain.PaginationParams) ([]domain.GeoTag, int64, error) {
	filter := buildFilter(q)
	return r.findPage(ctx, filter, filter, options.Find().SetSort(sortByDateDesc), page)
}

func (r *mongoGeoTagRepo) FindNear(ctx context.Context, pt domain.Point, radiusKm float64, page domain.PaginationParams) ([]domain.GeoTag, int64, error) {
	// $near already sorts by distance; no explicit sort is applied.
	return r.findPage(ctx, nearFilter(pt, radiusKm), nearCountFilter(pt, radiusKm), options.Find(), page)
}

func (r *mongoGeoTagRepo) FindWithin(ctx context.Context, box domain.Box, page domain.PaginationParams) ([]domain.GeoTag, int64, error) {
	filter := withinFilter(box)
	return r.findPage(ctx, filter, filter, options.Find().SetSort(sortByDateDesc), page)
}

// findPage runs the filter with skip/limit pagination and counts the total
// with countFilter, which may differ from filter when the query operator is
// not countable ($near).
func (r *mongoGeoTagRepo) findPage(ctx context.Context, filter, countFilter bson.D, opts *options.FindOptionsBuilder, page domain.PaginationParams) ([]domain.GeoTag, int64, error) {
	opts = opts.SetSkip(int64(page.Offset())).SetLimit(int64(page.Size))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.GeoTagRepo.findPage: find: %w", err)
	}
	tags := []domain.GeoTag{}
	if err := cursor.All(ctx, &tags); err != nil {
		return nil, 0, fmt.Errorf("repo.GeoTagRepo.findPage: decode: %w", err)
	}

	total, err := r.coll.CountDocuments(ctx, countFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.GeoTagRepo.findPage: count: %w", err)
	}
	return tags, total, nil
}

func (r *mongoGeoTagRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// One geotag per URN; the losing writer of a create race gets a
			// duplicate key error, surfaced as domain.ErrConflict.
			Keys:    bson.D{{Key: "urn", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "currentPosition.position", Value: "2dsphere"}},
		},
		{
			Keys: bson.D{{Key: "currentPosition.date", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "currentPosition.userId", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("repo.GeoTagRepo.EnsureIndexes: %w", err)
	}
	return nil
}
