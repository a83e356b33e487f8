package persist

import "time"

// User is the player identity a learning Session belongs to.
type User struct {
	ID        DBID      `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// PCFState is the serializable per-session online preference profile
// maintained by service/pcf. It is schema-versioned: FeatureSpaceVersion
// must match the Recommender's current feature space width/version or the
// state is stale and must be reinitialized rather than scored against.
type PCFState struct {
	SchemaVersion       int       `bson:"schema_version" json:"schema_version"`
	FeatureSpaceVersion int64     `bson:"feature_space_version" json:"feature_space_version"`
	UserVec             []float64 `bson:"user_vec" json:"user_vec"`
	Bias                float64   `bson:"bias" json:"bias"`
	Count               int       `bson:"count" json:"count"`
	Decay               float64   `bson:"decay" json:"decay"`
	ExceptionWeight     float64   `bson:"exception_weight" json:"exception_weight"`
}

// Session is a single learning session's accumulated state. Selections and
// PrefixRatings are stored in their own collections and referenced by
// session id so the selection log remains the append-only source of truth
// (see SPEC_FULL §5 on recoverable divergence when no multi-document
// transaction is available).
type Session struct {
	ID        DBID      `bson:"_id" json:"id"`
	UserID    DBID      `bson:"user_id" json:"user_id"`
	Category  string    `bson:"category" json:"category"`
	State     PCFState  `bson:"state" json:"state"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Selection is one append-only pick event within a session.
type Selection struct {
	ID          DBID      `bson:"_id" json:"id"`
	SessionID   DBID      `bson:"session_id" json:"session_id"`
	ProductID   DBID      `bson:"product_id" json:"product_id"`
	IsException bool      `bson:"is_exception" json:"is_exception"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// PrefixRating is a 1..5 rating of the prefix (sequence of selections) made
// so far in a session, timestamped so PBCF can resolve the prefix key it
// belongs to.
type PrefixRating struct {
	ID        DBID      `bson:"_id" json:"id"`
	SessionID DBID      `bson:"session_id" json:"session_id"`
	Rating    int       `bson:"rating" json:"rating"`
	Tags      []string  `bson:"tags" json:"tags"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
