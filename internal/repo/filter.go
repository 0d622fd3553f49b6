package repo

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/nbno/geotag-api/internal/domain"
)

// earthRadiusKm converts a kilometre radius into the radians $centerSphere
// expects.
const earthRadiusKm = 6378.1

// buildFilter translates a domain.GeoQuery into a conjunctive bson filter.
// Blank/nil fields contribute no clause. The email clause is the single
// disjunction: it matches the current position's email OR any history
// entry's email.
func buildFilter(q domain.GeoQuery) bson.D {
	clauses := bson.A{
		// Every geotag document carries a urn; the guard keeps partial
		// writes from ever surfacing in listings.
		bson.D{{Key: "urn", Value: bson.D{{Key: "$ne", Value: nil}}}},
	}

	if q.URN != "" {
		clauses = append(clauses, bson.D{{Key: "urn", Value: q.URN}})
	}
	if q.UserID != "" {
		clauses = append(clauses, bson.D{{Key: "currentPosition.userId", Value: q.UserID}})
	}
	if q.Email != "" {
		clauses = append(clauses, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "currentPosition.userEmail", Value: q.Email}},
			bson.D{{Key: "positionHistory.userEmail", Value: q.Email}},
		}}})
	}
	if q.UpdatedSince != nil {
		clauses = append(clauses, bson.D{{Key: "currentPosition.date", Value: bson.D{{Key: "$gt", Value: *q.UpdatedSince}}}})
	}
	if q.Dirty != nil {
		clauses = append(clauses, bson.D{{Key: "dirty", Value: *q.Dirty}})
	}
	if q.Sticky != nil {
		clauses = append(clauses, bson.D{{Key: "sticky", Value: *q.Sticky}})
	}

	return bson.D{{Key: "$and", Value: clauses}}
}

// nearFilter builds the $near predicate served by the 2dsphere index over
// the current position. radiusKm is converted to the metres $maxDistance
// expects.
func nearFilter(pt domain.Point, radiusKm float64) bson.D {
	return bson.D{{Key: "currentPosition.position", Value: bson.D{
		{Key: "$near", Value: bson.D{
			{Key: "$geometry", Value: bson.D{
				{Key: "type", Value: "Point"},
				{Key: "coordinates", Value: bson.A{pt.Longitude, pt.Latitude}},
			}},
			{Key: "$maxDistance", Value: radiusKm * 1000},
		}},
	}}}
}

// nearCountFilter is the countable twin of nearFilter: CountDocuments does
// not accept $near, so totals use $centerSphere over the same index.
func nearCountFilter(pt domain.Point, radiusKm float64) bson.D {
	return bson.D{{Key: "currentPosition.position", Value: bson.D{
		{Key: "$geoWithin", Value: bson.D{
			{Key: "$centerSphere", Value: bson.A{
				bson.A{pt.Longitude, pt.Latitude},
				radiusKm / earthRadiusKm,
			}},
		}},
	}}}
}

// withinFilter builds the $geoWithin/$box predicate for bounding-box search.
func withinFilter(box domain.Box) bson.D {
	return bson.D{{Key: "currentPosition.position", Value: bson.D{
		{Key: "$geoWithin", Value: bson.D{
			{Key: "$box", Value: bson.A{
				bson.A{box.LowerLeft.Longitude, box.LowerLeft.Latitude},
				bson.A{box.UpperRight.Longitude, box.UpperRight.Latitude},
			}},
		}},
	}}}
}
