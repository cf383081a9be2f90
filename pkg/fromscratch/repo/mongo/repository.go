// Package mongo provides the MongoDB-backed repository. Event retention
// and rate-limit window cleanup are delegated to TTL indexes created at
// startup; preview-token expiry stays lazy so a superseded token can still
// be reported distinctly before its TTL fires.
package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fromscratch/from-scratch/pkg/fromscratch"
)

const (
	eventsCollection     = "analytics_events"
	rateLimitsCollection = "rate_limits"
	postsCollection      = "posts"
	projectsCollection   = "projects"
	tokensCollection     = "preview_tokens"
)

// Repository implements fromscratch.Repository on a MongoDB database.
type Repository struct {
	events     *mongo.Collection
	rateLimits *mongo.Collection
	posts      *mongo.Collection
	projects   *mongo.Collection
	tokens     *mongo.Collection
}

// New creates a repository on the given database and ensures its indexes.
func New(ctx context.Context, db *mongo.Database) (*Repository, error) {
	r := &Repository{
		events:     db.Collection(eventsCollection),
		rateLimits: db.Collection(rateLimitsCollection),
		posts:      db.Collection(postsCollection),
		projects:   db.Collection(projectsCollection),
		tokens:     db.Collection(tokensCollection),
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return r, nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	eventTTL := int32(fromscratch.EventRetention / time.Second)
	_, err := r.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetExpireAfterSeconds(eventTTL),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}

	windowTTL := int32(fromscratch.RateLimitWindowDuration / time.Second)
	_, err = r.rateLimits.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "window_start", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(windowTTL),
	})
	if err != nil {
		return fmt.Errorf("rate limits: %w", err)
	}

	_, err = r.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("posts: %w", err)
	}

	_, err = r.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("preview tokens: %w", err)
	}
	return nil
}

func eventFilterQuery(f fromscratch.EventFilter) bson.M {
	query := bson.M{}
	if f.Start != nil || f.End != nil {
		window := bson.M{}
		if f.Start != nil {
			window["$gte"] = *f.Start
		}
		if f.End != nil {
			window["$lte"] = *f.End
		}
		query["timestamp"] = window
	}
	if f.EventType != "" {
		query["event_type"] = f.EventType
	}
	if f.SessionID != "" {
		query["session_id"] = f.SessionID
	}
	return query
}

// Event operations

func (r *Repository) CreateEvent(ctx context.Context, event *fromscratch.AnalyticsEvent) error {
	if _, err := r.events.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *Repository) ListEvents(ctx context.Context, filter fromscratch.EventFilter, limit, skip int) ([]*fromscratch.AnalyticsEvent, int64, error) {
	query := eventFilterQuery(filter)

	total, err := r.events.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.events.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*fromscratch.AnalyticsEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, fmt.Errorf("decode events: %w", err)
	}
	return events, total, nil
}

func (r *Repository) CountEvents(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	n, err := r.events.CountDocuments(ctx, eventFilterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (r *Repository) CountDistinctSessions(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	values, err := r.events.Distinct(ctx, "session_id", eventFilterQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("distinct sessions: %w", err)
	}
	return int64(len(values)), nil
}

func (r *Repository) CountDistinctIPs(ctx context.Context, filter fromscratch.EventFilter) (int64, error) {
	query := eventFilterQuery(filter)
	query["ip_address"] = bson.M{"$nin": bson.A{nil, ""}}

	values, err := r.events.Distinct(ctx, "ip_address", query)
	if err != nil {
		return 0, fmt.Errorf("distinct ips: %w", err)
	}
	return int64(len(values)), nil
}

func (r *Repository) bucketPipeline(ctx context.Context, pipeline []bson.M) ([]fromscratch.BucketCount, error) {
	cursor, err := r.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var buckets []fromscratch.BucketCount
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("decode buckets: %w", err)
	}
	return buckets, nil
}

func (r *Repository) CountEventsByField(ctx context.Context, field fromscratch.EventField, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	query := eventFilterQuery(filter)
	query[string(field)] = bson.M{"$nin": bson.A{nil, ""}}

	pipeline := []bson.M{
		{"$match": query},
		{"$group": bson.M{
			"_id":   "$" + string(field),
			"count": bson.M{"$sum": 1},
		}},
		{"$sort": bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.M{"$limit": limit})
	}
	return r.bucketPipeline(ctx, pipeline)
}

// nonEmptyString is the aggregation predicate for "this expression holds a
// non-empty string value".
func nonEmptyString(expr string) bson.M {
	return bson.M{"$and": bson.A{
		bson.M{"$eq": bson.A{bson.M{"$type": expr}, "string"}},
		bson.M{"$ne": bson.A{expr, ""}},
	}}
}

func (r *Repository) TopPages(ctx context.Context, filter fromscratch.EventFilter, limit int) ([]fromscratch.BucketCount, error) {
	// Page path resolution order matches fromscratch.ResolvePagePath.
	pagePath := bson.M{"$switch": bson.M{
		"branches": bson.A{
			bson.M{"case": nonEmptyString("$event_data.path"), "then": "$event_data.path"},
			bson.M{"case": nonEmptyString("$event_data.page"), "then": "$event_data.page"},
			bson.M{"case": nonEmptyString("$event_data.pathname"), "then": "$event_data.pathname"},
			bson.M{"case": nonEmptyString("$event_data.url"), "then": "$event_data.url"},
		},
		"default": "",
	}}

	pipeline := []bson.M{
		{"$match": eventFilterQuery(filter)},
		{"$addFields": bson.M{"page_path": pagePath}},
		{"$match": bson.M{"page_path": bson.M{"$ne": ""}}},
		{"$group": bson.M{
			"_id":   "$page_path",
			"count": bson.M{"$sum": 1},
		}},
		{"$sort": bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.M{"$limit": limit})
	}
	return r.bucketPipeline(ctx, pipeline)
}

func (r *Repository) DailyEventCounts(ctx context.Context, since time.Time) ([]fromscratch.DailyCount, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"timestamp": bson.M{"$gte": since}}},
		{"$group": bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format": "%Y-%m-%d",
				"date":   "$timestamp",
			}},
			"count": bson.M{"$sum": 1},
		}},
		{"$sort": bson.D{{Key: "_id", Value: 1}}},
	}

	cursor, err := r.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily counts: %w", err)
	}
	defer cursor.Close(ctx)

	var days []fromscratch.DailyCount
	if err := cursor.All(ctx, &days); err != nil {
		return nil, fmt.Errorf("decode daily counts: %w", err)
	}
	return days, nil
}

func (r *Repository) OldestEventTime(ctx context.Context) (*time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetProjection(bson.M{"timestamp": 1})

	var doc struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	err := r.events.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest event: %w", err)
	}
	return &doc.Timestamp, nil
}

// Rate limiting

// RegisterHit runs the increment-with-reset as one findOneAndUpdate with an
// aggregation-pipeline update, so concurrent hits for a session cannot race
// past the ceiling. The accepted flag records whether this particular hit
// was counted.
func (r *Repository) RegisterHit(ctx context.Context, sessionID string, max int, window time.Duration, now time.Time) (bool, error) {
	cutoff := now.Add(-window)

	// A missing window_start (fresh upsert) resolves to the zero time and
	// takes the reset branch.
	elapsed := bson.M{"$lte": bson.A{
		bson.M{"$ifNull": bson.A{"$window_start", time.Time{}}},
		cutoff,
	}}
	underMax := bson.M{"$lt": bson.A{
		bson.M{"$ifNull": bson.A{"$event_count", 0}},
		max,
	}}

	update := bson.A{bson.M{"$set": bson.M{
		"accepted": bson.M{"$cond": bson.A{elapsed, true, underMax}},
		"event_count": bson.M{"$cond": bson.A{
			elapsed, 1,
			bson.M{"$cond": bson.A{
				underMax,
				bson.M{"$add": bson.A{"$event_count", 1}},
				"$event_count",
			}},
		}},
		"window_start": bson.M{"$cond": bson.A{elapsed, now, "$window_start"}},
	}}}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Accepted bool `bson:"accepted"`
	}
	err := r.rateLimits.FindOneAndUpdate(ctx, bson.M{"_id": sessionID}, update, opts).Decode(&doc)
	if err != nil {
		return false, fmt.Errorf("register hit: %w", err)
	}
	return doc.Accepted, nil
}

// Post operations

func (r *Repository) CreatePost(ctx context.Context, post *fromscratch.Post) error {
	if _, err := r.posts.InsertOne(ctx, post); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fromscratch.ErrSlugTaken
		}
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *Repository) GetPost(ctx context.Context, id uuid.UUID) (*fromscratch.Post, error) {
	var post fromscratch.Post
	err := r.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, fromscratch.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	return &post, nil
}

func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*fromscratch.Post, error) {
	var post fromscratch.Post
	err := r.posts.FindOne(ctx, bson.M{"slug": slug}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, fromscratch.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find post by slug: %w", err)
	}
	return &post, nil
}

func (r *Repository) UpdatePost(ctx context.Context, post *fromscratch.Post) error {
	result, err := r.posts.ReplaceOne(ctx, bson.M{"_id": post.ID}, post)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fromscratch.ErrSlugTaken
		}
		return fmt.Errorf("replace post: %w", err)
	}
	if result.MatchedCount == 0 {
		return fromscratch.ErrPostNotFound
	}
	return nil
}

func (r *Repository) DeletePost(ctx context.Context, id uuid.UUID) error {
	result, err := r.posts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if result.DeletedCount == 0 {
		return fromscratch.ErrPostNotFound
	}
	return nil
}

func (r *Repository) ListPosts(ctx context.Context, filter fromscratch.PostFilter) ([]*fromscratch.Post, error) {
	query := bson.M{}
	if !filter.IncludeDrafts {
		query["is_published"] = true
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Tag != "" {
		query["tags"] = bson.M{"$regex": "^" + regexp.QuoteMeta(filter.Tag) + "$", "$options": "i"}
	}

	// Published posts order by publication date, drafts by creation date.
	pipeline := []bson.M{
		{"$match": query},
		{"$addFields": bson.M{
			"sort_time": bson.M{"$ifNull": bson.A{"$published_date", "$created_at"}},
		}},
		{"$sort": bson.D{{Key: "sort_time", Value: -1}}},
		{"$unset": "sort_time"},
	}

	cursor, err := r.posts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []*fromscratch.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	return posts, nil
}

// Project operations

func (r *Repository) CreateProject(ctx context.Context, project *fromscratch.Project) error {
	if _, err := r.projects.InsertOne(ctx, project); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*fromscratch.Project, error) {
	var project fromscratch.Project
	err := r.projects.FindOne(ctx, bson.M{"_id": id}).Decode(&project)
	if err == mongo.ErrNoDocuments {
		return nil, fromscratch.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return &project, nil
}

func (r *Repository) UpdateProject(ctx context.Context, project *fromscratch.Project) error {
	result, err := r.projects.ReplaceOne(ctx, bson.M{"_id": project.ID}, project)
	if err != nil {
		return fmt.Errorf("replace project: %w", err)
	}
	if result.MatchedCount == 0 {
		return fromscratch.ErrProjectNotFound
	}
	return nil
}

func (r *Repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	result, err := r.projects.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if result.DeletedCount == 0 {
		return fromscratch.ErrProjectNotFound
	}
	return nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*fromscratch.Project, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "featured", Value: -1},
		{Key: "sort_order", Value: 1},
		{Key: "created_at", Value: 1},
	})

	cursor, err := r.projects.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer cursor.Close(ctx)

	var projects []*fromscratch.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("decode projects: %w", err)
	}
	return projects, nil
}

// Preview token operations

func (r *Repository) CreatePreviewToken(ctx context.Context, token *fromscratch.PreviewToken) error {
	if _, err := r.tokens.InsertOne(ctx, token); err != nil {
		return fmt.Errorf("insert preview token: %w", err)
	}
	return nil
}

func (r *Repository) GetPreviewToken(ctx context.Context, token string) (*fromscratch.PreviewToken, error) {
	var t fromscratch.PreviewToken
	err := r.tokens.FindOne(ctx, bson.M{"_id": token}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, fromscratch.ErrPreviewTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find preview token: %w", err)
	}
	return &t, nil
}

func (r *Repository) DeletePreviewToken(ctx context.Context, token string) error {
	result, err := r.tokens.DeleteOne(ctx, bson.M{"_id": token})
	if err != nil {
		return fmt.Errorf("delete preview token: %w", err)
	}
	if result.DeletedCount == 0 {
		return fromscratch.ErrPreviewTokenNotFound
	}
	return nil
}

func (r *Repository) DeleteExpiredPreviewTokens(ctx context.Context, postID uuid.UUID, now time.Time) (int64, error) {
	result, err := r.tokens.DeleteMany(ctx, bson.M{
		"post_id":    postID,
		"expires_at": bson.M{"$lt": now},
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired preview tokens: %w", err)
	}
	return result.DeletedCount, nil
}

func (r *Repository) DeletePreviewTokensForPost(ctx context.Context, postID uuid.UUID) error {
	if _, err := r.tokens.DeleteMany(ctx, bson.M{"post_id": postID}); err != nil {
		return fmt.Errorf("delete preview tokens for post: %w", err)
	}
	return nil
}
